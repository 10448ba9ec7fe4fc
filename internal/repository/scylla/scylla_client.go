package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"powerguard-service/internal/config"
	"powerguard-service/internal/util"
)

// PreparedStatements holds prepared statements that are actually used by the repositories
type PreparedStatements struct {
	SaveCredential  *gocql.Query
	GetCredential   *gocql.Query
	GetAttemptState *gocql.Query
	SaveAttempts    *gocql.Query

	SaveEvent     *gocql.Query
	GetEvent      *gocql.Query
	AttachSession *gocql.Query
	AppendOutcome *gocql.Query
	GetOutcomes   *gocql.Query
	MarkProcessed *gocql.Query

	ClaimSession    *gocql.Query
	InsertSession   *gocql.Query
	GetSession      *gocql.Query
	UpdateLifecycle *gocql.Query
	SetActive       *gocql.Query
	ClearActive     *gocql.Query
	GetActive       *gocql.Query
	InsertLocation  *gocql.Query
	GetLocations    *gocql.Query
	DeleteLocation  *gocql.Query
	UpdateLocation  *gocql.Query

	UpsertStatus *gocql.Query
	GetStatus    *gocql.Query

	SaveUser *gocql.Query
	GetUser  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.SaveCredential = s.Session.Query(`
        INSERT INTO device_credentials (
            device_id, kind, user_id, salt, hash, iterations, algorithm,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetCredential = s.Session.Query(`
        SELECT device_id, kind, user_id, salt, hash, iterations, algorithm,
            created_at, updated_at
        FROM device_credentials WHERE device_id = ? AND kind = ?`)

	prepared.GetAttemptState = s.Session.Query(`
        SELECT device_id, failed_count, last_attempt_at, lockout_until
        FROM attempt_state WHERE device_id = ?`)

	prepared.SaveAttempts = s.Session.Query(`
        INSERT INTO attempt_state (device_id, failed_count, last_attempt_at, lockout_until)
        VALUES (?, ?, ?, ?)`)

	prepared.SaveEvent = s.Session.Query(`
        INSERT INTO security_events (
            event_id, event_bucket, event_date, event_time, event_type,
            device_id, user_id, session_id, details, processed, dispatch_err
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetEvent = s.Session.Query(`
        SELECT event_id, event_bucket, event_date, event_time, event_type,
            device_id, user_id, session_id, details, processed, dispatch_err
        FROM security_events WHERE event_id = ?`)

	prepared.AttachSession = s.Session.Query(`
        UPDATE security_events SET session_id = ? WHERE event_id = ?`)

	prepared.AppendOutcome = s.Session.Query(`
        INSERT INTO notification_outcomes (event_id, channel, sent, sent_at, skipped_reason, error)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetOutcomes = s.Session.Query(`
        SELECT event_id, channel, sent, sent_at, skipped_reason, error
        FROM notification_outcomes WHERE event_id = ?`)

	prepared.MarkProcessed = s.Session.Query(`
        UPDATE security_events SET processed = ?, dispatch_err = ? WHERE event_id = ?`)

	prepared.ClaimSession = s.Session.Query(`
        INSERT INTO session_claims (device_id, creation_bucket, session_id)
        VALUES (?, ?, ?) IF NOT EXISTS`)

	prepared.InsertSession = s.Session.Query(`
        INSERT INTO tracking_sessions (
            session_id, device_id, user_id, alert_type, creation_bucket,
            active, start_time, end_time, close_reason
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetSession = s.Session.Query(`
        SELECT session_id, device_id, user_id, alert_type, creation_bucket,
            active, start_time, end_time, close_reason
        FROM tracking_sessions WHERE session_id = ?`)

	prepared.UpdateLifecycle = s.Session.Query(`
        UPDATE tracking_sessions SET active = ?, end_time = ?, close_reason = ?
        WHERE session_id = ?`)

	prepared.SetActive = s.Session.Query(`
        INSERT INTO active_sessions (device_id, session_id) VALUES (?, ?)`)

	prepared.ClearActive = s.Session.Query(`
        DELETE FROM active_sessions WHERE device_id = ?`)

	prepared.GetActive = s.Session.Query(`
        SELECT session_id FROM active_sessions WHERE device_id = ?`)

	prepared.InsertLocation = s.Session.Query(`
        INSERT INTO session_locations (session_id, ts, payload)
        VALUES (?, ?, ?)`)

	prepared.GetLocations = s.Session.Query(`
        SELECT ts, payload FROM session_locations WHERE session_id = ?`)

	prepared.DeleteLocation = s.Session.Query(`
        DELETE FROM session_locations WHERE session_id = ? AND ts = ?`)

	prepared.UpdateLocation = s.Session.Query(`
        UPDATE session_locations SET payload = ? WHERE session_id = ? AND ts = ?`)

	prepared.UpsertStatus = s.Session.Query(`
        INSERT INTO device_status (device_id, status, last_alert, last_alert_type, updated_at)
        VALUES (?, ?, ?, ?, ?)`)

	prepared.GetStatus = s.Session.Query(`
        SELECT device_id, status, last_alert, last_alert_type, updated_at
        FROM device_status WHERE device_id = ?`)

	prepared.SaveUser = s.Session.Query(`
        INSERT INTO users (user_id, device_id, display_name, contacts, channel_opt_outs, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetUser = s.Session.Query(`
        SELECT user_id, device_id, display_name, contacts, channel_opt_outs, created_at
        FROM users WHERE user_id = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("Selected ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
