package domain

import "errors"

// Storage errors - 檔案系統層錯誤
var (
	// ErrNotFound indicates the requested file or tree does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotDirectory indicates expected a directory but got a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates expected a regular file but got something else
	ErrNotFile = errors.New("not a regular file")
)

// Cipher errors - 加解密層錯誤
var (
	// ErrKeyDerivation indicates the passphrase could not produce a key
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrCipherInit indicates the block cipher could not be initialised
	ErrCipherInit = errors.New("cipher initialisation failed")

	// ErrInvalidCiphertext indicates truncated or wrongly padded ciphertext,
	// usually a wrong key or a file that was never encrypted
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrNotEncrypted indicates a decrypt request for a file without the encrypted suffix
	ErrNotEncrypted = errors.New("file is not encrypted")
)

// Tree errors - 專案樹錯誤
var (
	// ErrNotManaged indicates the tree carries no marker file
	ErrNotManaged = errors.New("tree is not managed")

	// ErrTreeBusy indicates another lifecycle operation holds the tree
	ErrTreeBusy = errors.New("tree is busy")

	// ErrSessionClosed indicates an operation on a session that was already closed
	ErrSessionClosed = errors.New("session already closed")
)

// Identity errors - 身分與伺服器設定錯誤
var (
	// ErrIdentityMissing indicates full name or user id is not configured
	ErrIdentityMissing = errors.New("identity not configured")

	// ErrServerNotConfigured indicates the submission server or pool is unknown
	ErrServerNotConfigured = errors.New("submission server not configured")

	// ErrSecretNotFound indicates the secret store holds nothing for a scope
	ErrSecretNotFound = errors.New("secret not found")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

// Scheduler errors - 排程器錯誤
var (
	// ErrStopTimeout indicates background work did not finish within the shutdown grace period
	ErrStopTimeout = errors.New("stop timed out")
)
