package httpapi

import (
	"path/filepath"

	"github.com/opsdeck/foreman/internal/model"
	"github.com/opsdeck/foreman/internal/workspace"
)

// readArtifactBytes resolves an artifact's bytes through the same
// containment check the Agent Executor uses to write it, rather than
// trusting the stored AbsPath directly.
func readArtifactBytes(workspaceRoot string, a *model.Artifact) ([]byte, error) {
	ws, err := workspace.New(a.Agent, filepath.Join(workspaceRoot, a.Agent))
	if err != nil {
		return nil, err
	}
	return ws.ReadFile(a.RelPath)
}
