package aiservice

import "context"

// NoopGitHubExporter is the default GitHubExporter when no GitHub
// collaborator is configured (§6: the GitHub export integration is
// contracts-only for this implementation). IsReady always reports
// false so exportChat skips the push and returns markdown only.
type NoopGitHubExporter struct{}

func (NoopGitHubExporter) IsReady() bool { return false }

func (NoopGitHubExporter) SaveNote(ctx context.Context, path, content, commitMessage string) (string, error) {
	return "", nil
}
