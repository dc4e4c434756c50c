package imageref

import (
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

// Pattern is the only image URI shape the release tooling accepts:
// {registry-host}/{repository}[:|@]{tag-or-digest}.
const Pattern = `^([\d\w\.-]*)\/([\w\d-]*)[:@]([\d\w\.:-]*)$`

var uriRegex = regexp.MustCompile(Pattern)

// Parts is an image URI split into the pieces registry calls need.
type Parts struct {
	// AccountID is the first label of the registry host, the registry id
	// for ECR hosts.
	AccountID string
	Host      string
	Repo      string
	// HostRepo is Host/Repo, the image name without tag.
	HostRepo string
	Tag      string
}

// Parse splits uri, failing for anything that does not match Pattern.
func Parse(uri string) (Parts, error) {
	m := uriRegex.FindStringSubmatch(uri)
	if m == nil {
		return Parts{}, &types.MalformedImageURIError{URI: uri, Pattern: Pattern}
	}
	host, repo, tag := m[1], m[2], m[3]
	return Parts{
		AccountID: strings.Split(host, ".")[0],
		Host:      host,
		Repo:      repo,
		HostRepo:  host + "/" + repo,
		Tag:       tag,
	}, nil
}

// IsDigest reports whether the tag part is a content digest rather than a tag.
func (p Parts) IsDigest() bool {
	return strings.Contains(p.Tag, string(digest.SHA256))
}

// String rebuilds the URI, using @ for digests.
func (p Parts) String() string {
	if p.IsDigest() {
		return p.HostRepo + "@" + p.Tag
	}
	return Join(p.HostRepo, p.Tag)
}

func Join(hostRepo, tag string) string {
	return hostRepo + ":" + tag
}
