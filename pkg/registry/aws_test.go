package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	stagingURI = "111111111111.dkr.ecr.us-east-1.amazonaws.com/staging:1.1.0-gpu-abc"
	digestURI  = "111111111111.dkr.ecr.us-east-1.amazonaws.com/staging@sha256:0f0f"
)

type mockSTS struct{ mock.Mock }

func (m *mockSTS) AssumeRole(ctx context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sts.AssumeRoleOutput)
	return out, args.Error(1)
}

type mockECR struct{ mock.Mock }

func (m *mockECR) GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*ecr.GetAuthorizationTokenOutput)
	return out, args.Error(1)
}

func (m *mockECR) DescribeImages(ctx context.Context, in *ecr.DescribeImagesInput, _ ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*ecr.DescribeImagesOutput)
	return out, args.Error(1)
}

func (m *mockECR) DescribeImageScanFindings(ctx context.Context, in *ecr.DescribeImageScanFindingsInput, _ ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error) {
	// Record the token before the caller reuses the input for the next page.
	args := m.Called(ctx, aws.ToString(in.NextToken))
	out, _ := args.Get(0).(*ecr.DescribeImageScanFindingsOutput)
	return out, args.Error(1)
}

type mockSSM struct{ mock.Mock }

func (m *mockSSM) PutParameter(ctx context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*ssm.PutParameterOutput)
	return out, args.Error(1)
}

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) StartPipelineExecution(ctx context.Context, in *codepipeline.StartPipelineExecutionInput, _ ...func(*codepipeline.Options)) (*codepipeline.StartPipelineExecutionOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*codepipeline.StartPipelineExecutionOutput)
	return out, args.Error(1)
}

func (m *mockPipeline) GetPipelineExecution(ctx context.Context, in *codepipeline.GetPipelineExecutionInput, _ ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*codepipeline.GetPipelineExecutionOutput)
	return out, args.Error(1)
}

func TestCredentials(t *testing.T) {
	m := new(mockECR)
	token := base64.StdEncoding.EncodeToString([]byte("AWS:s3cr3t"))
	m.On("GetAuthorizationToken", mock.Anything, mock.MatchedBy(func(in *ecr.GetAuthorizationTokenInput) bool {
		return len(in.RegistryIds) == 1 && in.RegistryIds[0] == "111111111111"
	})).Return(&ecr.GetAuthorizationTokenOutput{
		AuthorizationData: []ecrtypes.AuthorizationData{{AuthorizationToken: aws.String(token)}},
	}, nil)

	a := NewWithAPIs(nil, m, nil, nil)
	user, pass, err := a.Credentials(context.Background(), stagingURI)
	require.NoError(t, err)
	assert.Equal(t, "AWS", user)
	assert.Equal(t, "s3cr3t", pass)
	m.AssertExpectations(t)

	_, _, err = a.Credentials(context.Background(), "not a uri")
	assert.ErrorIs(t, err, types.ErrInput)
}

func TestDecodeTokenErrors(t *testing.T) {
	_, _, err := decodeToken("%%%")
	assert.ErrorIs(t, err, types.ErrExternalCall)

	_, _, err = decodeToken(base64.StdEncoding.EncodeToString([]byte("nocolon")))
	assert.ErrorIs(t, err, types.ErrExternalCall)
}

func TestImageExists(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "tag exists", uri: stagingURI, want: true},
		{name: "digest exists", uri: digestURI, want: true},
		{name: "not found", uri: stagingURI, err: &ecrtypes.ImageNotFoundException{Message: aws.String("gone")}},
		{name: "other failure", uri: stagingURI, err: errors.New("throttled"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := new(mockECR)
			m.On("DescribeImages", mock.Anything, mock.MatchedBy(func(in *ecr.DescribeImagesInput) bool {
				if aws.ToString(in.RegistryId) != "111111111111" || aws.ToString(in.RepositoryName) != "staging" {
					return false
				}
				id := in.ImageIds[0]
				if tc.uri == digestURI {
					return aws.ToString(id.ImageDigest) == "sha256:0f0f" && id.ImageTag == nil
				}
				return aws.ToString(id.ImageTag) == "1.1.0-gpu-abc" && id.ImageDigest == nil
			})).Return(&ecr.DescribeImagesOutput{}, tc.err)

			got, err := NewWithAPIs(nil, m, nil, nil).ImageExists(context.Background(), tc.uri)
			if tc.wantErr {
				assert.ErrorIs(t, err, types.ErrExternalCall)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			m.AssertExpectations(t)
		})
	}
}

func scanPage(status ecrtypes.ScanStatus, next *string, findings ...ecrtypes.EnhancedImageScanFinding) *ecr.DescribeImageScanFindingsOutput {
	return &ecr.DescribeImageScanFindingsOutput{
		ImageScanStatus:   &ecrtypes.ImageScanStatus{Status: status},
		ImageScanFindings: &ecrtypes.ImageScanFindings{EnhancedFindings: findings},
		NextToken:         next,
	}
}

func finding(title, severity string) ecrtypes.EnhancedImageScanFinding {
	return ecrtypes.EnhancedImageScanFinding{Title: aws.String(title), Severity: aws.String(severity)}
}

func TestScanFindingsPagination(t *testing.T) {
	m := new(mockECR)
	m.On("DescribeImageScanFindings", mock.Anything, "").
		Return(scanPage(ecrtypes.ScanStatusComplete, aws.String("p1"), finding("CVE-1", "CRITICAL")), nil).Once()
	for i, tok := range []string{"p1", "p2", "p3", "p4", "p5"} {
		next := aws.String([]string{"p2", "p3", "p4", "p5", "p6"}[i])
		m.On("DescribeImageScanFindings", mock.Anything, tok).
			Return(scanPage(ecrtypes.ScanStatusComplete, next, finding("CVE-"+tok, "HIGH")), nil).Once()
	}

	r, err := NewWithAPIs(nil, m, nil, nil).ScanFindings(context.Background(), stagingURI)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", r.Status)
	assert.Len(t, r.Findings, 6)
	assert.True(t, r.Truncated)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "DescribeImageScanFindings", 6)
}

func TestIsScanPending(t *testing.T) {
	tests := []struct {
		name    string
		out     *ecr.DescribeImageScanFindingsOutput
		err     error
		want    bool
		wantErr bool
	}{
		{name: "pending", out: scanPage(ecrtypes.ScanStatusPending, nil), want: true},
		{name: "complete", out: scanPage(ecrtypes.ScanStatusComplete, nil)},
		{name: "scan not started", err: &ecrtypes.ScanNotFoundException{Message: aws.String("none")}, want: true},
		{name: "failure", err: errors.New("boom"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := new(mockECR)
			m.On("DescribeImageScanFindings", mock.Anything, "").Return(tc.out, tc.err)
			got, err := NewWithAPIs(nil, m, nil, nil).IsScanPending(context.Background(), stagingURI)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestImageScanFindings(t *testing.T) {
	m := new(mockECR)
	m.On("DescribeImageScanFindings", mock.Anything, "").Return(scanPage(ecrtypes.ScanStatusComplete, nil,
		finding("CVE-1", "CRITICAL"),
		finding("CVE-2", "HIGH"),
		finding("CVE-3", "CRITICAL"),
	), nil)

	got, err := NewWithAPIs(nil, m, nil, nil).ImageScanFindings(context.Background(), stagingURI,
		sets.New(types.SeverityCritical), sets.New("CVE-3"))
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-1"}, got)
}

func TestSetParameter(t *testing.T) {
	m := new(mockSSM)
	m.On("PutParameter", mock.Anything, &ssm.PutParameterInput{
		Name:      aws.String("/huggingface-pytorch-tgi/gpu/tgi-version"),
		Value:     aws.String("1.1.0"),
		Overwrite: aws.Bool(true),
	}).Return(&ssm.PutParameterOutput{}, nil)

	a := NewWithAPIs(nil, nil, m, nil)
	require.NoError(t, a.SetParameter(context.Background(), "/huggingface-pytorch-tgi/gpu/tgi-version", "1.1.0"))
	m.AssertExpectations(t)
}

func TestPipeline(t *testing.T) {
	m := new(mockPipeline)
	m.On("StartPipelineExecution", mock.Anything, &codepipeline.StartPipelineExecutionInput{Name: aws.String("p")}).
		Return(&codepipeline.StartPipelineExecutionOutput{PipelineExecutionId: aws.String("exec-1")}, nil)
	a := NewWithAPIs(nil, nil, nil, m)

	id, err := a.StartPipeline(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", id)

	for status, want := range map[cptypes.PipelineExecutionStatus]types.PipelineStatus{
		cptypes.PipelineExecutionStatusInProgress: types.PipelineInProgress,
		cptypes.PipelineExecutionStatusSucceeded:  types.PipelineSuccessful,
		cptypes.PipelineExecutionStatusFailed:     types.PipelineUnsuccessful,
		cptypes.PipelineExecutionStatusStopped:    types.PipelineUnsuccessful,
	} {
		pm := new(mockPipeline)
		pm.On("GetPipelineExecution", mock.Anything, &codepipeline.GetPipelineExecutionInput{
			PipelineName:        aws.String("p"),
			PipelineExecutionId: aws.String("exec-1"),
		}).Return(&codepipeline.GetPipelineExecutionOutput{
			PipelineExecution: &cptypes.PipelineExecution{Status: status},
		}, nil)
		got, err := NewWithAPIs(nil, nil, nil, pm).PipelineStatus(context.Background(), "p", "exec-1")
		require.NoError(t, err)
		assert.Equal(t, want, got, string(status))
	}

	fm := new(mockPipeline)
	fm.On("StartPipelineExecution", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))
	_, err = NewWithAPIs(nil, nil, nil, fm).StartPipeline(context.Background(), "p")
	assert.ErrorIs(t, err, types.ErrExternalCall)
}

func TestAssumeRole(t *testing.T) {
	m := new(mockSTS)
	m.On("AssumeRole", mock.Anything, &sts.AssumeRoleInput{
		RoleArn:         aws.String("arn:aws:iam::222222222222:role/dlc"),
		RoleSessionName: aws.String(SessionName),
	}).Return(&sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("AKIA"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token"),
	}}, nil)

	orig := fromConfig
	defer func() { fromConfig = orig }()
	var gotCfg aws.Config
	fromConfig = func(cfg aws.Config) *AWS {
		gotCfg = cfg
		return &AWS{cfg: cfg}
	}

	assumed, creds, err := NewWithAPIs(m, nil, nil, nil).AssumeRole(context.Background(), "arn:aws:iam::222222222222:role/dlc")
	require.NoError(t, err)
	assert.NotNil(t, assumed)
	assert.Equal(t, types.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "secret", SessionToken: "token"}, creds)

	got, err := gotCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA", got.AccessKeyID)
	assert.Equal(t, "token", got.SessionToken)

	fm := new(mockSTS)
	fm.On("AssumeRole", mock.Anything, mock.Anything).Return(nil, errors.New("denied"))
	_, _, err = NewWithAPIs(fm, nil, nil, nil).AssumeRole(context.Background(), "arn")
	assert.ErrorIs(t, err, types.ErrExternalCall)
}
