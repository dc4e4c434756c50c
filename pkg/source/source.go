// Package source prepares build contexts from external source trees.
package source

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

// For testing.
var plainClone = git.PlainCloneContext

// External describes an upstream repository an image is built from.
type External struct {
	URL string
	// Folder is the local checkout directory, relative to the work directory.
	Folder string
	// TagPattern is formatted with the release version, e.g. "v%s".
	TagPattern string
	Submodules bool
}

// CheckoutRequest asks for External at Tag, overlaid with the local
// directory Overlay (copied to the same relative path inside the checkout).
type CheckoutRequest struct {
	External External
	Tag      string
	WorkDir  string
	Overlay  string
}

// Checkout replaces any stale checkout with a shallow clone of the requested
// tag and overlays the local build assets. It returns the checkout path.
func Checkout(ctx context.Context, req CheckoutRequest) (string, error) {
	dst := filepath.Join(req.WorkDir, req.External.Folder)
	if err := os.RemoveAll(dst); err != nil {
		return "", &types.ExternalCallError{Op: "remove stale checkout " + dst, Err: err}
	}

	start := time.Now()
	opts := &git.CloneOptions{
		URL:           req.External.URL,
		ReferenceName: plumbing.NewTagReferenceName(req.Tag),
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
	}
	if req.External.Submodules {
		opts.RecurseSubmodules = git.DefaultSubmoduleRecursionDepth
	}
	if _, err := plainClone(ctx, dst, false, opts); err != nil {
		return "", &types.ExternalCallError{
			Op:  "clone " + req.External.URL + " at " + req.Tag,
			Err: err,
		}
	}
	log.Infof("Checked out %s with tag %s to %s in %v", req.External.URL, req.Tag, dst, time.Since(start))

	if req.Overlay != "" {
		src := filepath.Join(req.WorkDir, req.Overlay)
		if err := CopyTree(src, filepath.Join(dst, req.Overlay)); err != nil {
			return "", &types.ExternalCallError{Op: "overlay " + src, Err: err}
		}
		log.Infof("Copied %q directory into %s for the COPY command", req.Overlay, dst)
	}
	return dst, nil
}

// HeadCommit returns the hash HEAD points at in the repository containing dir.
func HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", errors.Wrapf(err, "failed to open git repository at %s", dir)
	}
	head, err := repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve HEAD")
	}
	return head.Hash().String(), nil
}

// CopyTree copies the regular files and directories under src to dst,
// keeping file modes. Symlinks are recreated, not followed.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
