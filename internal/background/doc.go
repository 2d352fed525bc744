// Package background runs work that must outlive the request that started
// it, such as event dispatch after a webhook ack and bounded gateway
// sessions. Host.Shutdown awaits every task before the process exits.
package background
