package rcon

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Client opens a fresh connection for every batch. It holds no sockets
// between calls and is safe for concurrent use.
type Client struct {
	Options Options
}

func NewClient(opts Options) *Client {
	return &Client{Options: opts}
}

// RunCommands connects to server, runs commands in order under policy and
// closes the connection.
func (c *Client) RunCommands(ctx context.Context, server *Server, commands []string, policy Policy) ([]Result, error) {
	logger := log.WithFields(log.Fields{"server": server.Name, "batch": uuid.New().String()})
	conn, err := Dial(ctx, server.Address(), server.Password, c.Options)
	if err != nil {
		logger.WithError(err).Error("Failed to connect")
		return nil, errors.Wrapf(err, "connect to %s", server.Name)
	}
	defer func() {
		if errClose := conn.Close(); errClose != nil {
			logger.WithError(errClose).Warn("Failed to close rcon connection")
		}
	}()

	results, err := Run(ctx, &loggingExecutor{conn: conn, log: logger}, commands, policy)
	if err != nil {
		return results, errors.Wrapf(err, "on %s", server.Name)
	}
	return results, nil
}

type loggingExecutor struct {
	conn *RemoteConsole
	log  *log.Entry
}

func (l *loggingExecutor) Exec(ctx context.Context, cmd string) (string, error) {
	out, err := l.conn.Exec(ctx, cmd)
	entry := l.log.WithField("command", cmd)
	if err != nil {
		entry.WithError(err).Error("Error executing command")
		return out, err
	}
	entry.WithField("response", out).Debug("Command executed")
	return out, nil
}
