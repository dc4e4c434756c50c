package imageref

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    Parts
		digest  bool
		wantErr bool
	}{
		{
			name: "ecr tag",
			uri:  "123456789012.dkr.ecr.us-west-2.amazonaws.com/staging-repo:1.1.0-gpu-abc123",
			want: Parts{
				AccountID: "123456789012",
				Host:      "123456789012.dkr.ecr.us-west-2.amazonaws.com",
				Repo:      "staging-repo",
				HostRepo:  "123456789012.dkr.ecr.us-west-2.amazonaws.com/staging-repo",
				Tag:       "1.1.0-gpu-abc123",
			},
		},
		{
			name: "digest",
			uri:  "123456789012.dkr.ecr.us-west-2.amazonaws.com/repo@sha256:4d2b7c1f",
			want: Parts{
				AccountID: "123456789012",
				Host:      "123456789012.dkr.ecr.us-west-2.amazonaws.com",
				Repo:      "repo",
				HostRepo:  "123456789012.dkr.ecr.us-west-2.amazonaws.com/repo",
				Tag:       "sha256:4d2b7c1f",
			},
			digest: true,
		},
		{
			name:    "nested repository path",
			uri:     "host.example.com/team/repo:tag",
			wantErr: true,
		},
		{
			name:    "no tag",
			uri:     "host.example.com/repo",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.uri)
			if tc.wantErr {
				require.Error(t, err)
				var mie *types.MalformedImageURIError
				assert.True(t, errors.As(err, &mie))
				assert.ErrorIs(t, err, types.ErrInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.digest, got.IsDigest())
			assert.Equal(t, tc.uri, got.String())
		})
	}
}

func TestJoinRoundTrip(t *testing.T) {
	host := "987654321098.dkr.ecr.us-east-1.amazonaws.com"
	repo := "huggingface-pytorch-tgi"
	tag := "2.0.1-tgi1.1.0-gpu-py39-cu118-ubuntu20.04"

	parts, err := Parse(Join(host+"/"+repo, tag))
	require.NoError(t, err)
	assert.Equal(t, host, parts.Host)
	assert.Equal(t, repo, parts.Repo)
	assert.Equal(t, tag, parts.Tag)
	assert.False(t, parts.IsDigest())
}
