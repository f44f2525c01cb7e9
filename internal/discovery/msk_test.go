package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
	"github.com/aws/aws-sdk-go-v2/service/kafka/types"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

type fakeMSK struct {
	listOutput   *kafka.ListClustersOutput
	brokerOutput *kafka.GetBootstrapBrokersOutput
	listErr      error
	brokerErr    error
}

func (m fakeMSK) ListClusters(context.Context, *kafka.ListClustersInput, ...func(*kafka.Options)) (*kafka.ListClustersOutput, error) {
	return m.listOutput, m.listErr
}

func (m fakeMSK) GetBootstrapBrokers(context.Context, *kafka.GetBootstrapBrokersInput, ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error) {
	return m.brokerOutput, m.brokerErr
}

var found = &kafka.ListClustersOutput{
	ClusterInfoList: []types.ClusterInfo{{ClusterName: aws.String("test"), ClusterArn: aws.String("arn")}},
}

func TestMSKBrokers_PicksAuthList(t *testing.T) {
	m := fakeMSK{
		listOutput: found,
		brokerOutput: &kafka.GetBootstrapBrokersOutput{
			BootstrapBrokerString:        aws.String("a:9092,b:9092"),
			BootstrapBrokerStringSaslIam: aws.String("a:9098"),
		},
	}
	got, err := MSKBrokers(context.Background(), m, "test", "sasl_iam")
	if err != nil || len(got) != 1 || got[0] != "a:9098" {
		t.Fatalf("got %v err=%v", got, err)
	}
	got, err = MSKBrokers(context.Background(), m, "test", "")
	if err != nil || len(got) != 2 {
		t.Fatalf("plaintext: got %v err=%v", got, err)
	}
}

func TestMSKBrokers_Errors(t *testing.T) {
	cases := map[string]struct {
		m    fakeMSK
		auth string
		want error
	}{
		"list failure":   {m: fakeMSK{listErr: errors.New("boom")}, want: stream.ErrTransient},
		"not found":      {m: fakeMSK{listOutput: &kafka.ListClustersOutput{}}, want: stream.ErrConfiguration},
		"broker failure": {m: fakeMSK{listOutput: found, brokerErr: errors.New("boom")}, want: stream.ErrTransient},
		"nil brokers":    {m: fakeMSK{listOutput: found, brokerOutput: &kafka.GetBootstrapBrokersOutput{}}, auth: "tls", want: stream.ErrConfiguration},
		"unknown auth":   {m: fakeMSK{listOutput: found, brokerOutput: &kafka.GetBootstrapBrokersOutput{}}, auth: "kerberos", want: stream.ErrConfiguration},
	}
	for name, tc := range cases {
		_, err := MSKBrokers(context.Background(), tc.m, "test", tc.auth)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: want %v, got %v", name, tc.want, err)
		}
	}
}

func TestResolve_StaticBrokersWin(t *testing.T) {
	got, err := Resolve(context.Background(), config.Kafka{Brokers: []string{"k:1"}, MSK: config.MSK{ClusterName: "ignored"}})
	if err != nil || len(got) != 1 || got[0] != "k:1" {
		t.Fatalf("got %v err=%v", got, err)
	}
	if _, err := Resolve(context.Background(), config.Kafka{}); !errors.Is(err, stream.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}
}
