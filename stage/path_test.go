package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		give       string
		wantString string
		wantErr    string
	}{
		{
			name:       "success: root",
			give:       "/",
			wantString: "/",
		},
		{
			name:       "success: nested path",
			give:       "/Root/box_0",
			wantString: "/Root/box_0",
		},
		{
			name:    "error: relative path",
			give:    "Root/box_0",
			wantErr: "not absolute",
		},
		{
			name:    "error: invalid element",
			give:    "/Root/box-0",
			wantErr: "invalid element",
		},
		{
			name:    "error: empty element",
			give:    "/Root//box",
			wantErr: "invalid element",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParsePath(tt.give)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantString, got.String())
		})
	}
}

func TestPath_AppendChild(t *testing.T) {
	t.Parallel()

	root := RootPath()
	p := root.AppendChild("Root").AppendChild("box-0")
	assert.Equal(t, "/Root/box_0", p.String(), "invalid names are coerced")
	assert.Equal(t, "box_0", p.Name())
	assert.Equal(t, "/Root", p.Parent().String())
	assert.True(t, p.HasPrefix(root.AppendChild("Root")))
	assert.False(t, p.HasPrefix(root.AppendChild("Other")))
}

func TestPath_ReplacePrefix(t *testing.T) {
	t.Parallel()

	oldPrefix := MustParsePath("/Root/box_0")
	newPrefix := MustParsePath("/Root/crate")
	p := MustParsePath("/Root/box_0/child")

	got, err := p.ReplacePrefix(oldPrefix, newPrefix)
	require.NoError(t, err)
	assert.Equal(t, "/Root/crate/child", got.String())

	_, err = MustParsePath("/Other").ReplacePrefix(oldPrefix, newPrefix)
	require.Error(t, err)
}

func TestMakeValidIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		give string
		want string
	}{
		{give: "box-0", want: "box_0"},
		{give: "0box", want: "_box"},
		{give: "", want: "_"},
		{give: "fine_Name2", want: "fine_Name2"},
		{give: "with space", want: "with_space"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.give, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, MakeValidIdentifier(tt.give))
			assert.True(t, IsValidIdentifier(MakeValidIdentifier(tt.give)))
		})
	}
}
