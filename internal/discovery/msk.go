// Package discovery resolves Kafka bootstrap brokers, either from static
// configuration or from the Amazon MSK control plane.
package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kafka"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// MSKClient is the subset of the MSK API used for broker lookup.
type MSKClient interface {
	ListClusters(context.Context, *kafka.ListClustersInput, ...func(*kafka.Options)) (*kafka.ListClustersOutput, error)
	GetBootstrapBrokers(context.Context, *kafka.GetBootstrapBrokersInput, ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error)
}

// NewMSKClient builds a client from the default AWS credential chain.
func NewMSKClient(ctx context.Context, region string) (MSKClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithDefaultRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return kafka.NewFromConfig(cfg), nil
}

// Resolve returns the static broker list when set, otherwise asks MSK.
func Resolve(ctx context.Context, k config.Kafka) ([]string, error) {
	if len(k.Brokers) > 0 {
		return k.Brokers, nil
	}
	if k.MSK.ClusterName == "" {
		return nil, fmt.Errorf("%w: kafka.brokers or kafka.msk.cluster_name is required", stream.ErrConfiguration)
	}
	client, err := NewMSKClient(ctx, k.MSK.Region)
	if err != nil {
		return nil, err
	}
	return MSKBrokers(ctx, client, k.MSK.ClusterName, k.MSK.Auth)
}

// MSKBrokers looks up the cluster ARN by name and returns the bootstrap
// list matching auth.
func MSKBrokers(ctx context.Context, c MSKClient, cluster, auth string) ([]string, error) {
	list, err := c.ListClusters(ctx, &kafka.ListClustersInput{ClusterNameFilter: aws.String(cluster)})
	if err != nil {
		return nil, stream.Transient(fmt.Errorf("list msk clusters: %w", err))
	}
	if len(list.ClusterInfoList) == 0 || list.ClusterInfoList[0].ClusterArn == nil {
		return nil, fmt.Errorf("%w: msk cluster not found: %s", stream.ErrConfiguration, cluster)
	}
	arn := aws.ToString(list.ClusterInfoList[0].ClusterArn)

	res, err := c.GetBootstrapBrokers(ctx, &kafka.GetBootstrapBrokersInput{ClusterArn: aws.String(arn)})
	if err != nil {
		return nil, stream.Transient(fmt.Errorf("get bootstrap brokers: %w", err))
	}
	var s *string
	switch strings.ToLower(auth) {
	case "", "plaintext":
		s = res.BootstrapBrokerString
	case "tls":
		s = res.BootstrapBrokerStringTls
	case "sasl_scram":
		s = res.BootstrapBrokerStringSaslScram
	case "sasl_iam":
		s = res.BootstrapBrokerStringSaslIam
	case "public_tls":
		s = res.BootstrapBrokerStringPublicTls
	case "public_sasl_scram":
		s = res.BootstrapBrokerStringPublicSaslScram
	case "public_sasl_iam":
		s = res.BootstrapBrokerStringPublicSaslIam
	default:
		return nil, fmt.Errorf("%w: unknown msk auth %q", stream.ErrConfiguration, auth)
	}
	if aws.ToString(s) == "" {
		return nil, fmt.Errorf("%w: msk cluster %s has no %q bootstrap brokers", stream.ErrConfiguration, cluster, auth)
	}
	brokers := strings.Split(aws.ToString(s), ",")
	logging.L().Info("resolved msk brokers", "cluster", cluster, "auth", auth, "count", len(brokers))
	return brokers, nil
}
