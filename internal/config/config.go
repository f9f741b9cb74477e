// Package config defines the connector service's process configuration:
// transport bind addresses, heartbeat/dispatch tuning, and the queue URIs
// backing the outbound delivery adapter.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/frame/config"
)

// ServiceConfig is the connector daemon's full configuration, loaded by the
// bootstrap in cmd/connectord and passed down to the manager, transport
// listeners, and queue adapter it constructs.
type ServiceConfig struct {
	config.ConfigurationDefault

	// Transport bind addresses.
	ListenAddr   string `envDefault:":7600" env:"LISTEN_ADDR"`
	WSListenAddr string `envDefault:":7601" env:"WS_LISTEN_ADDR"`

	// Heartbeat/dispatch tuning, mirrored onto connector.Config by the
	// bootstrap.
	HeartbeatSec            int `envDefault:"30" env:"HEARTBEAT_SEC"`
	DispatchWorkers         int `envDefault:"0"  env:"DISPATCH_WORKERS"`
	ShutdownDrainTimeoutSec int `envDefault:"5"  env:"SHUTDOWN_DRAIN_TIMEOUT_SEC"`
	RegistryCapacity        int `envDefault:"1024" env:"REGISTRY_CAPACITY"`

	// RegistryDegradedRatio is the occupancy ratio above which the
	// readiness registry checker reports degraded (0 < ratio <= 1).
	RegistryDegradedRatio float64 `envDefault:"0.8" env:"REGISTRY_DEGRADED_RATIO"`

	// Queue delivery adapter: the outbound-delivery topic it subscribes to,
	// and the dead-letter topic it republishes a delivery to when the
	// addressed channel is not registered on this instance.
	QueueOutboundName    string `envDefault:"connector.outbound.delivery" env:"QUEUE_OUTBOUND_NAME"`
	QueueOutboundURI     string `envDefault:"mem://connector.outbound.delivery" env:"QUEUE_OUTBOUND_URI"`
	QueueDeadLetterName  string `envDefault:"connector.outbound.deadletter" env:"QUEUE_DEADLETTER_NAME"`
	QueueDeadLetterURI   string `envDefault:"mem://connector.outbound.deadletter" env:"QUEUE_DEADLETTER_URI"`
}

// Validate checks that the configuration is usable, joining every field
// error found rather than stopping at the first.
func (c *ServiceConfig) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("ListenAddr cannot be empty"))
	}
	if c.WSListenAddr == "" {
		errs = append(errs, errors.New("WSListenAddr cannot be empty"))
	}

	if c.HeartbeatSec <= 0 {
		errs = append(errs, errors.New("HeartbeatSec must be > 0"))
	}

	if c.ShutdownDrainTimeoutSec <= 0 {
		errs = append(errs, errors.New("ShutdownDrainTimeoutSec must be > 0"))
	}

	if c.RegistryCapacity < 0 {
		errs = append(errs, errors.New("RegistryCapacity must be >= 0"))
	}

	if c.RegistryDegradedRatio <= 0 || c.RegistryDegradedRatio > 1 {
		errs = append(errs, fmt.Errorf("RegistryDegradedRatio must be in (0, 1], got %v", c.RegistryDegradedRatio))
	}

	if err := validateQueueURI(c.QueueOutboundURI, "QueueOutboundURI"); err != nil {
		errs = append(errs, err)
	}
	if err := validateQueueURI(c.QueueDeadLetterURI, "QueueDeadLetterURI"); err != nil {
		errs = append(errs, err)
	}
	if c.QueueOutboundName == "" {
		errs = append(errs, errors.New("QueueOutboundName cannot be empty"))
	}
	if c.QueueDeadLetterName == "" {
		errs = append(errs, errors.New("QueueDeadLetterName cannot be empty"))
	}

	return errors.Join(errs...)
}

// validateQueueURI checks that a queue URI carries a scheme this module's
// pub/sub wiring (gocloud.dev/pubsub) can open.
func validateQueueURI(uri, name string) error {
	if uri == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}

	validSchemes := []string{"mem://", "nats://", "kafka://", "rabbit://", "awssqs://"}
	for _, scheme := range validSchemes {
		if strings.HasPrefix(uri, scheme) {
			return nil
		}
	}

	return fmt.Errorf("%s has invalid scheme (must be one of: %s): %s", name, strings.Join(validSchemes, ", "), uri)
}
