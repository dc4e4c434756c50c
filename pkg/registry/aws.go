package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/imageref"
	"github.com/robert-cronin/imagerelease/pkg/report"
	"github.com/robert-cronin/imagerelease/pkg/types"
)

const (
	scanPageSize     = 1000
	maxScanPageCalls = 5

	imageNotFound = "ImageNotFoundException"
	scanNotFound  = "ScanNotFoundException"
)

// STSAPI is the subset of the STS client the registry uses.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// ECRAPI is the subset of the ECR client the registry uses.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeImages(ctx context.Context, params *ecr.DescribeImagesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImagesOutput, error)
	DescribeImageScanFindings(ctx context.Context, params *ecr.DescribeImageScanFindingsInput, optFns ...func(*ecr.Options)) (*ecr.DescribeImageScanFindingsOutput, error)
}

// SSMAPI is the subset of the SSM client the registry uses.
type SSMAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// PipelineAPI is the subset of the CodePipeline client the registry uses.
type PipelineAPI interface {
	StartPipelineExecution(ctx context.Context, params *codepipeline.StartPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.StartPipelineExecutionOutput, error)
	GetPipelineExecution(ctx context.Context, params *codepipeline.GetPipelineExecutionInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineExecutionOutput, error)
}

// AWS implements Registry with ECR, SSM, CodePipeline and STS.
type AWS struct {
	cfg      aws.Config
	sts      STSAPI
	ecr      ECRAPI
	ssm      SSMAPI
	pipeline PipelineAPI
}

// For testing.
var fromConfig = NewFromConfig

// NewAWS builds a client from the default credential chain.
func NewAWS(ctx context.Context) (*AWS, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, &types.ExternalCallError{Op: "load AWS config", Err: err}
	}
	return fromConfig(cfg), nil
}

func NewFromConfig(cfg aws.Config) *AWS {
	return &AWS{
		cfg:      cfg,
		sts:      sts.NewFromConfig(cfg),
		ecr:      ecr.NewFromConfig(cfg),
		ssm:      ssm.NewFromConfig(cfg),
		pipeline: codepipeline.NewFromConfig(cfg),
	}
}

// NewWithAPIs wires explicit service clients, mainly for tests.
func NewWithAPIs(stsAPI STSAPI, ecrAPI ECRAPI, ssmAPI SSMAPI, pipelineAPI PipelineAPI) *AWS {
	return &AWS{sts: stsAPI, ecr: ecrAPI, ssm: ssmAPI, pipeline: pipelineAPI}
}

var _ Registry = (*AWS)(nil)

func (a *AWS) AssumeRole(ctx context.Context, roleARN string) (Registry, types.Credentials, error) {
	log.Infof("Getting session for role: %s.", roleARN)
	out, err := a.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(SessionName),
	})
	if err != nil {
		return nil, types.Credentials{}, &types.ExternalCallError{Op: "assume role " + roleARN, Err: err}
	}
	if out.Credentials == nil {
		return nil, types.Credentials{}, &types.ExternalCallError{
			Op:  "assume role " + roleARN,
			Err: errors.New("response carries no credentials"),
		}
	}
	creds := types.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}

	cfg := a.cfg.Copy()
	cfg.Credentials = aws.NewCredentialsCache(
		credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
	)
	return fromConfig(cfg), creds, nil
}

func (a *AWS) Credentials(ctx context.Context, uri string) (string, string, error) {
	parts, err := imageref.Parse(uri)
	if err != nil {
		return "", "", err
	}
	out, err := a.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{
		RegistryIds: []string{parts.AccountID},
	})
	if err != nil {
		return "", "", &types.ExternalCallError{Op: "get authorization token for " + parts.AccountID, Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return "", "", &types.ExternalCallError{
			Op:  "get authorization token for " + parts.AccountID,
			Err: errors.New("no authorization data returned"),
		}
	}
	return decodeToken(aws.ToString(out.AuthorizationData[0].AuthorizationToken))
}

func decodeToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", &types.ExternalCallError{Op: "decode authorization token", Err: err}
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", &types.ExternalCallError{
			Op:  "decode authorization token",
			Err: errors.New("token is not in user:password form"),
		}
	}
	return user, pass, nil
}

func imageID(parts imageref.Parts) *ecrtypes.ImageIdentifier {
	if parts.IsDigest() {
		return &ecrtypes.ImageIdentifier{ImageDigest: aws.String(parts.Tag)}
	}
	return &ecrtypes.ImageIdentifier{ImageTag: aws.String(parts.Tag)}
}

func (a *AWS) ImageExists(ctx context.Context, uri string) (bool, error) {
	parts, err := imageref.Parse(uri)
	if err != nil {
		return false, err
	}
	_, err = a.ecr.DescribeImages(ctx, &ecr.DescribeImagesInput{
		RegistryId:     aws.String(parts.AccountID),
		RepositoryName: aws.String(parts.Repo),
		ImageIds:       []ecrtypes.ImageIdentifier{*imageID(parts)},
	})
	exists := true
	if err != nil {
		if !isAPIError(err, imageNotFound) {
			return false, &types.ExternalCallError{Op: "describe image " + uri, Err: err}
		}
		exists = false
	}
	log.Infof("Does image URI %s already exist? %t.", uri, exists)
	return exists, nil
}

func (a *AWS) ScanFindings(ctx context.Context, uri string) (*report.Report, error) {
	parts, err := imageref.Parse(uri)
	if err != nil {
		return nil, err
	}
	in := &ecr.DescribeImageScanFindingsInput{
		RegistryId:     aws.String(parts.AccountID),
		RepositoryName: aws.String(parts.Repo),
		ImageId:        imageID(parts),
		MaxResults:     aws.Int32(scanPageSize),
	}
	out, err := a.ecr.DescribeImageScanFindings(ctx, in)
	if err != nil {
		return nil, scanError(uri, err)
	}
	r := &report.Report{ImageURI: uri}
	if out.ImageScanStatus != nil {
		r.Status = string(out.ImageScanStatus.Status)
	}
	r.Findings = appendFindings(r.Findings, out.ImageScanFindings)

	for calls := 0; calls < maxScanPageCalls && out.NextToken != nil; calls++ {
		in.NextToken = out.NextToken
		if out, err = a.ecr.DescribeImageScanFindings(ctx, in); err != nil {
			return nil, scanError(uri, err)
		}
		r.Findings = appendFindings(r.Findings, out.ImageScanFindings)
	}
	if out.NextToken != nil {
		r.Truncated = true
		log.Warn("There are more scan results not loaded from pagination, consider increasing the page limit.")
	}
	return r, nil
}

func scanError(uri string, err error) error {
	return &types.ExternalCallError{Op: "describe image scan findings for " + uri, Err: err}
}

func appendFindings(dst []types.Finding, in *ecrtypes.ImageScanFindings) []types.Finding {
	if in == nil {
		return dst
	}
	for _, f := range in.EnhancedFindings {
		dst = append(dst, types.Finding{
			Title:    aws.ToString(f.Title),
			Severity: types.Severity(aws.ToString(f.Severity)),
		})
	}
	return dst
}

func (a *AWS) IsScanPending(ctx context.Context, uri string) (bool, error) {
	r, err := a.ScanFindings(ctx, uri)
	if err != nil {
		if isAPIError(err, scanNotFound) {
			return true, nil
		}
		return false, err
	}
	return r.Pending(), nil
}

func (a *AWS) ImageScanFindings(ctx context.Context, uri string, severities sets.Set[types.Severity], excluded sets.Set[string]) ([]string, error) {
	r, err := a.ScanFindings(ctx, uri)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s scan findings by severity: %v", uri, r.CountBySeverity())
	return r.Filter(severities, excluded), nil
}

func (a *AWS) SetParameter(ctx context.Context, name, value string) error {
	_, err := a.ssm.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return &types.ExternalCallError{Op: "put parameter " + name, Err: err}
	}
	log.Infof("Set parameter name: '%s' to value: %s.", name, value)
	return nil
}

func (a *AWS) StartPipeline(ctx context.Context, name string) (string, error) {
	out, err := a.pipeline.StartPipelineExecution(ctx, &codepipeline.StartPipelineExecutionInput{
		Name: aws.String(name),
	})
	if err != nil {
		return "", &types.ExternalCallError{Op: "start pipeline " + name, Err: err}
	}
	id := aws.ToString(out.PipelineExecutionId)
	log.Infof("Started pipeline: '%s' with execution ID: '%s'.", name, id)
	return id, nil
}

func (a *AWS) PipelineStatus(ctx context.Context, name, executionID string) (types.PipelineStatus, error) {
	out, err := a.pipeline.GetPipelineExecution(ctx, &codepipeline.GetPipelineExecutionInput{
		PipelineName:        aws.String(name),
		PipelineExecutionId: aws.String(executionID),
	})
	if err != nil {
		return "", &types.ExternalCallError{
			Op:  fmt.Sprintf("get pipeline %s execution %s", name, executionID),
			Err: err,
		}
	}
	if out.PipelineExecution == nil {
		return types.PipelineUnsuccessful, nil
	}
	switch out.PipelineExecution.Status {
	case cptypes.PipelineExecutionStatusInProgress:
		return types.PipelineInProgress, nil
	case cptypes.PipelineExecutionStatusSucceeded:
		return types.PipelineSuccessful, nil
	default:
		return types.PipelineUnsuccessful, nil
	}
}

func isAPIError(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
