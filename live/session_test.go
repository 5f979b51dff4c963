package live

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagelink/connect/client"
	"github.com/stagelink/connect/pkg/logger"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		give    string
		wantErr bool
	}{
		{name: "simple", give: "mysession"},
		{name: "mixed", give: "Design-Review_2"},
		{name: "single letter", give: "a"},
		{name: "empty", give: "", wantErr: true},
		{name: "leading digit", give: "2fast", wantErr: true},
		{name: "leading hyphen", give: "-session", wantErr: true},
		{name: "spaces", give: "my session", wantErr: true},
		{name: "dots", give: "my.session", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateName(tt.give)
			if tt.wantErr {
				require.ErrorContains(t, err, "invalid session name")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestInfo_URLs(t *testing.T) {
	t.Parallel()

	info := Info{
		StageURL: "omniverse://localhost/Users/test/helloworld.stage",
		Name:     "mysession",
	}

	base := "omniverse://localhost/Users/test/.live/helloworld.live/mysession"
	assert.Equal(t, base, info.FolderURL())
	assert.Equal(t, base+"/root.live", info.RootLayerURL())
	assert.Equal(t, base+"/__session__.toml", info.ConfigURL())
	assert.Equal(t, base+"/__session__.channel", info.ChannelURL())
}

func TestListSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	conn := client.Connect(logger.Test(t))
	t.Cleanup(func() { _ = conn.Close() })

	stageURL := filepath.Join(t.TempDir(), "helloworld.stage")

	// No session folder yet.
	names, err := ListSessions(ctx, conn, stageURL)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"review", "blockout"} {
		info := Info{StageURL: stageURL, Name: name}
		require.NoError(t, conn.CreateFolder(ctx, info.FolderURL()))
	}
	// Stray files and invalid folder names are skipped.
	root := Info{StageURL: stageURL, Name: "x"}.FolderURL()
	require.NoError(t, conn.WriteFile(ctx, client.Join(client.Dir(root), "notes.txt"), []byte("x")))
	require.NoError(t, conn.CreateFolder(ctx, client.Join(client.Dir(root), "9bad")))

	names, err = ListSessions(ctx, conn, stageURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"blockout", "review"}, names)
}
