package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Identity is the committer identity configured for a working tree
type Identity struct {
	Name  string
	Email string
}

// String formats the identity as "Name <email>", dropping whichever part is unset
func (id Identity) String() string {
	switch {
	case id.Name != "" && id.Email != "":
		return fmt.Sprintf("%s <%s>", id.Name, id.Email)
	case id.Name != "":
		return id.Name
	default:
		return id.Email
	}
}

// DetectIdentity reads user.name and user.email for the repository containing path
func DetectIdentity(path string) (Identity, error) {
	root, err := findRepoRoot(path)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		Name:  configValue(root, "user.name"),
		Email: configValue(root, "user.email"),
	}
	if id.Name == "" && id.Email == "" {
		return Identity{}, fmt.Errorf("no user.name or user.email configured for %s", root)
	}
	return id, nil
}

// DefaultAuthor is the identity of the current directory's repository, or empty
// outside a repository
func DefaultAuthor() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	id, err := DetectIdentity(cwd)
	if err != nil {
		return ""
	}
	return id.String()
}

// configValue returns one git config value, empty when unset or git is missing
func configValue(root, key string) string {
	out, err := exec.Command("git", "-C", root, "config", "--get", key).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// findRepoRoot walks up from startPath to the directory holding .git
func findRepoRoot(startPath string) (string, error) {
	path, err := filepath.Abs(startPath)
	if err != nil {
		return "", err
	}
	for {
		// .git is a file in worktrees and submodules
		if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
			return path, nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("not a git repository")
		}
		path = parent
	}
}
