package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// EnsureExpirySchedule creates the expiry sweep schedule if missing, or
// updates its firing interval if it already exists.
func (c *Client) EnsureExpirySchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ExpiryScheduleID)
	desc, err := handle.Describe(ctx)

	if err != nil {
		// Schedule doesn't exist yet - create it.
		c.logger.Debug("expiry schedule not found, creating",
			"schedule_id", ExpiryScheduleID,
			"interval", interval,
		)
		return c.createExpirySchedule(ctx, interval)
	}

	if len(desc.Schedule.Spec.Intervals) == 1 && desc.Schedule.Spec.Intervals[0].Every == interval {
		c.logger.Debug("expiry schedule already up to date",
			"schedule_id", ExpiryScheduleID,
			"interval", interval,
		)
		return nil
	}

	c.logger.Debug("expiry schedule exists, updating interval",
		"schedule_id", ExpiryScheduleID,
		"new_interval", interval,
	)

	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update schedule %q: %w", ExpiryScheduleID, err)
	}

	c.logger.Info("expiry schedule updated",
		"schedule_id", ExpiryScheduleID,
		"interval", interval,
	)
	return nil
}

func (c *Client) createExpirySchedule(ctx context.Context, interval time.Duration) error {
	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{Every: interval},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "expire-offers",
		Workflow:  "ExpireOffersWorkflow",
		TaskQueue: c.taskQueue,
		Args:      []interface{}{ExpireOffersInput{}},
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     ExpiryScheduleID,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"created_by": "genomeledger",
		},
	})
	if err != nil {
		c.logger.Error("failed to create expiry schedule",
			"schedule_id", ExpiryScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", ExpiryScheduleID, err)
	}

	c.logger.Info("expiry schedule created",
		"schedule_id", ExpiryScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteExpirySchedule removes the expiry sweep schedule.
func (c *Client) DeleteExpirySchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, ExpiryScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete expiry schedule",
			"schedule_id", ExpiryScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", ExpiryScheduleID, err)
	}

	c.logger.Info("expiry schedule deleted", "schedule_id", ExpiryScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow
// operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
