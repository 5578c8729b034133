package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/scarybot/bogamail/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Keep notes about correspondents for the language-model strategy",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Print a correspondent's notes as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileEditCmd = &cobra.Command{
	Use:   "edit <address>",
	Short: "Edit a correspondent's notes in $EDITOR",
	Long: `Open the notes kept about <address> as YAML in $EDITOR (vi when unset) and
save them when the editor exits. Saving an empty document clears the notes.

Example:
  EDITOR=nano bogamail profile edit scammer@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileEdit,
}

func init() {
	profileCmd.AddCommand(profileShowCmd, profileEditCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	profiles, err := a.profiles()
	if err != nil {
		return err
	}
	profile, err := profiles.Profile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if profile == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "No notes for %s\n", args[0])
		return nil
	}

	return yaml.NewEncoder(cmd.OutOrStdout()).Encode(profile.Data)
}

func runProfileEdit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	profiles, err := a.profiles()
	if err != nil {
		return err
	}
	profile, err := profiles.Profile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &models.Profile{Address: args[0], Data: map[string]any{}}
	}

	data, err := editYAML(profile.Data, editor(), cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	profile.Data = data

	if err := profiles.SaveProfile(cmd.Context(), profile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Notes for %s saved\n", args[0])
	return nil
}

func editor() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	return "vi"
}

// editYAML writes data to a temporary YAML file, runs the editor on it and
// parses the result.
func editYAML(data map[string]any, editor string, stdin io.Reader, stdout io.Writer) (map[string]any, error) {
	f, err := os.CreateTemp("", "bogamail-profile-*.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if len(data) > 0 {
		if err := yaml.NewEncoder(f).Encode(data); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to write profile: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write profile: %w", err)
	}

	edit := exec.Command(editor, f.Name())
	edit.Stdin = stdin
	edit.Stdout = stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return nil, fmt.Errorf("editor failed: %w", err)
	}

	edited, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read edited profile: %w", err)
	}

	result := map[string]any{}
	if err := yaml.Unmarshal(edited, &result); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("edited profile is not valid YAML: %w", err)
	}
	return result, nil
}
