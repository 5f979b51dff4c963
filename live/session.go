// Package live implements collaborative editing sessions on top of a
// stage: a shared live layer that every participant edits and replicates,
// a message channel for presence and coordination, and a merge step that
// folds the session's edits back into the base stage.
//
// A session for stage <folder>/<stage>.<ext> named "mysession" lives in
//
//	<folder>/.live/<stage>.live/mysession/
//	    root.live            the shared live layer
//	    __session__.toml     session configuration
//	    __session__.channel  the message channel
package live

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/stagelink/connect/client"
)

// Session folder entry names.
const (
	liveFolderName  = ".live"
	rootLayerName   = "root.live"
	configFileName  = "__session__.toml"
	channelFileName = "__session__.channel"
)

var sessionNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidateName checks a session name: it must start with a letter and may
// contain letters, digits, hyphens, and underscores.
func ValidateName(name string) error {
	if !sessionNameRe.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores", name)
	}

	return nil
}

// Info locates one session of one stage.
type Info struct {
	StageURL string
	Name     string
}

// sessionsRoot is the folder holding every session of the stage.
func sessionsRoot(stageURL string) string {
	stem, _ := client.Stem(stageURL)

	return client.Join(client.Dir(stageURL), liveFolderName, stem+liveFolderName)
}

// FolderURL is the session's folder.
func (i Info) FolderURL() string {
	return client.Join(sessionsRoot(i.StageURL), i.Name)
}

// RootLayerURL is the shared live layer all participants edit.
func (i Info) RootLayerURL() string {
	return client.Join(i.FolderURL(), rootLayerName)
}

// ConfigURL is the session configuration file.
func (i Info) ConfigURL() string {
	return client.Join(i.FolderURL(), configFileName)
}

// ChannelURL is the session's message channel.
func (i Info) ChannelURL() string {
	return client.Join(i.FolderURL(), channelFileName)
}

// Client is the part of the content client sessions need.
type Client interface {
	Stat(ctx context.Context, url string) (client.Entry, error)
	List(ctx context.Context, url string) ([]client.Entry, error)
	ReadFile(ctx context.Context, url string) ([]byte, error)
	WriteFile(ctx context.Context, url string, data []byte) error
	CreateFolder(ctx context.Context, url string) error
	ServerInfo(ctx context.Context, url string) (client.ServerInfo, error)
	CreateCheckpoint(ctx context.Context, url, comment string, force bool) (client.Checkpoint, error)
	JoinChannel(ctx context.Context, url string) (client.Transport, error)
	Subscribe(ctx context.Context, url string, fn func(client.Event)) (func(), error)
}

// ListSessions returns the names of the stage's sessions, sorted. A stage
// with no session folder has no sessions.
func ListSessions(ctx context.Context, c Client, stageURL string) ([]string, error) {
	entries, err := c.List(ctx, sessionsRoot(stageURL))
	if err != nil {
		if client.IsNotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("list sessions for %s: %w", stageURL, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsFolder {
			continue
		}
		name := client.Base(e.URL)
		if sessionNameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}
