package version

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// TestVersionStrings ensures Short and Full return consistent information.
func TestVersionStrings(t *testing.T) {
	t.Parallel()

	require.NotEmpty(t, Short())
	require.Contains(t, Full(), Short())
	require.Contains(t, Full(), AppName)
}

// TestAttachCobraVersionCommand prints the full version through the subcommand.
func TestAttachCobraVersionCommand(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: AppName}
	AttachCobraVersionCommand(root)

	var out bytes.Buffer

	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), Full())
}
