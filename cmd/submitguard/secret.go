package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Ning0612/submitguard/internal/config"
	"github.com/Ning0612/submitguard/internal/credential"
)

var secretAdmin bool

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage the secrets kept in the system keyring",
}

var secretSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a secret in the keyring",
	Long: `Stores a secret in the system keyring. With --admin the value goes to the
administrative slot; a machine holding the configured admin secret there runs as administrator.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := credential.ScopeOrdinary
		if secretAdmin {
			scope = credential.ScopeAdministrative
		}

		value, err := readSecret(fmt.Sprintf("Enter the %s secret: ", scope))
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("secret cannot be empty")
		}

		if err := credential.NewKeyringStore().Set(scope, value); err != nil {
			return fmt.Errorf("failed to store secret: %w", err)
		}
		fmt.Println(success(fmt.Sprintf("Stored the %s secret in %s", scope, color.YellowString(scope.ServiceName()))))
		return nil
	},
}

// readSecret prompts without echo on a terminal and reads one line otherwise
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		value, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(string(value)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}

var identity config.IdentityConfig

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the student identity recorded in exports",
}

var identitySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Save the student identity and submission target to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity.FullName = strings.TrimSpace(identity.FullName)
		identity.UserID = strings.TrimSpace(identity.UserID)
		if identity.FullName == "" || identity.UserID == "" {
			return fmt.Errorf("--name and --user are required")
		}

		path := cfgFile
		if path == "" {
			path = config.DefaultConfigFile()
		}
		if err := config.SaveIdentity(config.ExpandPath(path), identity); err != nil {
			return err
		}

		fmt.Println(success("Identity saved to " + color.YellowString(path)))
		if identity.Server == "" || identity.PoolID == "" {
			fmt.Println(color.CyanString("→") + " No server or pool given; submissions use the target recorded in the tree")
		}
		return nil
	},
}

func init() {
	secretSetCmd.Flags().BoolVar(&secretAdmin, "admin", false, "store the administrative secret")
	secretCmd.AddCommand(secretSetCmd)

	identitySetCmd.Flags().StringVar(&identity.FullName, "name", "", "full name")
	identitySetCmd.Flags().StringVar(&identity.UserID, "user", "", "user id, also the archive name")
	identitySetCmd.Flags().StringVar(&identity.Server, "server", "", "submission server URL")
	identitySetCmd.Flags().StringVar(&identity.PoolID, "pool", "", "submission pool id")
	identityCmd.AddCommand(identitySetCmd)
}
