package checker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/xdg-go/scram"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zateckar/uptimo-sub000/internal/monitor"
)

// KafkaChecker probes a Kafka cluster. Only the base broker connection
// decides the overall status; metadata, read and write steps are optional
// and report into the result's KafkaInfo without flipping the status.
type KafkaChecker struct {
	cfg    Config
	logger *logrus.Logger
}

// NewKafkaChecker creates a Kafka connectivity checker.
func NewKafkaChecker(cfg Config, logger *logrus.Logger) *KafkaChecker {
	return &KafkaChecker{cfg: cfg, logger: logger}
}

// Check connects to the cluster and runs the configured optional steps.
func (c *KafkaChecker) Check(ctx context.Context, m *monitor.Monitor) *monitor.CheckResult {
	opts := m.Kafka
	if opts == nil {
		return downResult("kafka check requires kafka options")
	}

	saramaCfg, err := c.buildSaramaConfig(m, opts)
	if err != nil {
		return downResult(err.Error())
	}

	brokers := brokerList(m)
	if len(brokers) == 0 {
		return downResult("kafka check requires at least one broker address")
	}

	start := time.Now()
	client, err := sarama.NewClient(brokers, saramaCfg)
	elapsed := time.Since(start)
	if err != nil {
		return downResult(fmt.Sprintf("broker connection failed: %v", err))
	}
	defer client.Close()

	info := &monitor.KafkaInfo{}
	extra := &monitor.ExtraData{Kafka: info}

	if opts.FetchMetadata {
		c.metadataStep(client, info)
	}
	if opts.WriteTopic != "" {
		c.writeStep(client, opts.WriteTopic, info)
	}
	if opts.ReadTopic != "" {
		c.readStep(ctx, client, opts, info)
	}

	result := &monitor.CheckResult{
		Status:         monitor.StatusUp,
		ResponseTimeMS: elapsedMS(elapsed),
		Extra:          extra,
		CheckedAt:      time.Now().UTC(),
	}

	if opts.CheckCertExpiry && usesTLS(opts.SecurityProtocol) {
		c.certStep(m, opts, brokers[0], result)
	}
	return result
}

// buildSaramaConfig translates the monitor's security settings into a sarama
// client configuration.
func (c *KafkaChecker) buildSaramaConfig(m *monitor.Monitor, opts *monitor.KafkaOptions) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "uptimo-checker"
	cfg.Version = sarama.V2_6_0_0
	cfg.Net.DialTimeout = m.Timeout()
	cfg.Net.ReadTimeout = m.Timeout()
	cfg.Net.WriteTimeout = m.Timeout()
	cfg.Metadata.Retry.Max = 1
	cfg.Producer.Return.Successes = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	if usesTLS(opts.SecurityProtocol) {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{InsecureSkipVerify: opts.TLSSkipVerify}
	}

	if opts.SecurityProtocol == monitor.KafkaSASLSSL || opts.SecurityProtocol == monitor.KafkaSASLPlaintext {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = opts.Username
		cfg.Net.SASL.Password = opts.Password

		switch opts.SASLMechanism {
		case monitor.KafkaSASLPlain, "":
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case monitor.KafkaSASLSCRAM256:
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA256}
			}
		case monitor.KafkaSASLSCRAM512:
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{HashGeneratorFcn: scram.SHA512}
			}
		case monitor.KafkaSASLOAuthBearer:
			if opts.TokenEndpoint == "" {
				return nil, fmt.Errorf("OAUTHBEARER requires a token endpoint")
			}
			cfg.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			cc := &clientcredentials.Config{
				ClientID:     opts.ClientID,
				ClientSecret: opts.ClientSecret,
				TokenURL:     opts.TokenEndpoint,
				Scopes:       opts.Scopes,
			}
			cfg.Net.SASL.TokenProvider = &oauthTokenProvider{
				source: cc.TokenSource(context.Background()),
			}
		default:
			return nil, fmt.Errorf("unsupported SASL mechanism: %s", opts.SASLMechanism)
		}
	}
	return cfg, nil
}

func (c *KafkaChecker) metadataStep(client sarama.Client, info *monitor.KafkaInfo) {
	ok := true
	info.BrokerCount = len(client.Brokers())
	topics, err := client.Topics()
	if err != nil {
		ok = false
		info.MetadataErr = err.Error()
	} else {
		info.TopicCount = len(topics)
	}
	info.MetadataOK = &ok
}

func (c *KafkaChecker) writeStep(client sarama.Client, topic string, info *monitor.KafkaInfo) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		info.WriteErr = err.Error()
		ok := false
		info.WriteOK = &ok
		return
	}
	defer producer.Close()

	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: writePayload(time.Now()),
	})
	ok := err == nil
	if err != nil {
		info.WriteErr = err.Error()
	}
	info.WriteOK = &ok
}

// writePayload builds the JSON message the write test produces.
func writePayload(now time.Time) sarama.ByteEncoder {
	payload, _ := json.Marshal(map[string]interface{}{
		"source":    "uptimo",
		"kind":      "write-test",
		"timestamp": now.Unix(),
	})
	return sarama.ByteEncoder(payload)
}

// readStep tries to consume a single message, through a consumer group when
// one is configured, otherwise from partition 0 directly.
func (c *KafkaChecker) readStep(ctx context.Context, client sarama.Client, opts *monitor.KafkaOptions, info *monitor.KafkaInfo) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	if opts.ConsumerGroup != "" {
		err = c.readViaGroup(ctx, client, opts)
	} else {
		err = c.readViaPartition(ctx, client, opts.ReadTopic)
	}
	ok := err == nil
	if err != nil {
		info.ReadErr = err.Error()
	}
	info.ReadOK = &ok
}

func (c *KafkaChecker) readViaGroup(ctx context.Context, client sarama.Client, opts *monitor.KafkaOptions) error {
	group, err := sarama.NewConsumerGroupFromClient(opts.ConsumerGroup, client)
	if err != nil {
		return fmt.Errorf("consumer group setup failed: %w", err)
	}
	defer group.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := &readOneHandler{got: make(chan struct{}, 1)}
	done := make(chan error, 1)
	go func() {
		done <- group.Consume(ctx, []string{opts.ReadTopic}, handler)
	}()

	select {
	case <-handler.got:
		cancel()
		<-done
		return nil
	case err := <-done:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("consume failed: %w", err)
		}
		return fmt.Errorf("no message received before timeout")
	case <-ctx.Done():
		return fmt.Errorf("no message received before timeout")
	}
}

func (c *KafkaChecker) readViaPartition(ctx context.Context, client sarama.Client, topic string) error {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return fmt.Errorf("consumer setup failed: %w", err)
	}
	defer consumer.Close()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("partition consume failed: %w", err)
	}
	defer pc.Close()

	select {
	case <-pc.Messages():
		return nil
	case err := <-pc.Errors():
		return fmt.Errorf("consume failed: %w", err)
	case <-ctx.Done():
		return fmt.Errorf("no message received before timeout")
	}
}

// certStep inspects the broker's TLS certificate. An expiring certificate
// marks the check down and sets the ssl warning flag.
func (c *KafkaChecker) certStep(m *monitor.Monitor, opts *monitor.KafkaOptions, broker string, result *monitor.CheckResult) {
	host, _, err := net.SplitHostPort(broker)
	if err != nil {
		host = broker
	}
	conn, err := tls.DialWithDialer(
		&net.Dialer{Timeout: m.Timeout()},
		"tcp", broker,
		&tls.Config{ServerName: host, InsecureSkipVerify: opts.TLSSkipVerify},
	)
	if err != nil {
		c.logger.WithField("broker", broker).WithError(err).Debug("kafka cert inspection failed")
		return
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return
	}
	certInfo := certInfoFromState(host, &state)
	result.Extra.CertInfo = certInfo

	warnDays := opts.CertWarningDays
	if warnDays <= 0 {
		warnDays = c.cfg.CertWarningDays
	}
	if certInfo.DaysToExpiry <= warnDays {
		msg := fmt.Sprintf("certificate expiring in %d days", certInfo.DaysToExpiry)
		result.Status = monitor.StatusDown
		result.ErrorMessage = &msg
		result.Extra.SSLWarning = true
	}
}

// brokerList splits the monitor target into broker addresses, appending the
// monitor port to any entry that lacks one.
func brokerList(m *monitor.Monitor) []string {
	var brokers []string
	for _, b := range strings.Split(m.Target, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(b); err != nil && m.Port > 0 {
			b = net.JoinHostPort(b, fmt.Sprintf("%d", m.Port))
		}
		brokers = append(brokers, b)
	}
	return brokers
}

func usesTLS(p monitor.KafkaSecurityProtocol) bool {
	return p == monitor.KafkaSSL || p == monitor.KafkaSASLSSL
}

// scramClient adapts the xdg-go SCRAM implementation to sarama's SCRAMClient
// interface.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *scramClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.Client = client
	x.ClientConversation = client.NewConversation()
	return nil
}

func (x *scramClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *scramClient) Done() bool {
	return x.ClientConversation.Done()
}

// oauthTokenProvider feeds client-credentials tokens to sarama's OAUTHBEARER
// flow, refreshing through the underlying token source as needed.
type oauthTokenProvider struct {
	source oauth2.TokenSource
}

func (p *oauthTokenProvider) Token() (*sarama.AccessToken, error) {
	tok, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("token fetch failed: %w", err)
	}
	return &sarama.AccessToken{Token: tok.AccessToken}, nil
}

// readOneHandler marks the read step successful on the first consumed
// message.
type readOneHandler struct {
	got chan struct{}
}

func (h *readOneHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *readOneHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *readOneHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		sess.MarkMessage(msg, "")
		select {
		case h.got <- struct{}{}:
		default:
		}
		return nil
	}
	return nil
}
