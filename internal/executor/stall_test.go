package executor

import (
	"context"
	"database/sql/driver"
	"errors"
)

// stallConnector hands out connections whose statements block until
// release is closed, ignoring context cancellation like a wedged driver.
type stallConnector struct {
	release chan struct{}
}

func newStallConnector() *stallConnector {
	return &stallConnector{release: make(chan struct{})}
}

func (c *stallConnector) Connect(context.Context) (driver.Conn, error) {
	return &stallConn{release: c.release}, nil
}

func (c *stallConnector) Driver() driver.Driver { return stallDriver{c} }

type stallDriver struct{ c *stallConnector }

func (d stallDriver) Open(string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

type stallConn struct {
	release chan struct{}
}

func (c *stallConn) Prepare(string) (driver.Stmt, error) {
	return &stallStmt{release: c.release}, nil
}

func (c *stallConn) Close() error { return nil }

func (c *stallConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions not supported")
}

type stallStmt struct {
	release chan struct{}
}

func (s *stallStmt) Close() error  { return nil }
func (s *stallStmt) NumInput() int { return -1 }

func (s *stallStmt) Exec([]driver.Value) (driver.Result, error) {
	<-s.release
	return driver.RowsAffected(0), nil
}

func (s *stallStmt) Query([]driver.Value) (driver.Rows, error) {
	<-s.release
	return nil, errors.New("released")
}
