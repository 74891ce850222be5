package main

import (
	"bytes"
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blesvc/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs the root command in-process with captured output.
// Every test starts with all flags back at their defaults.
type CommandTestSuite struct {
	suite.Suite
	Helper *testutils.TestHelper
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	resetFlags(rootCmd)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	// Subcommands keep the context of their first run unless it is replaced.
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// WriteConfig writes a YAML configuration file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	return s.Helper.WriteFile("blesvc.yaml", yaml)
}
