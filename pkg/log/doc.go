// Package log provides the structured logging abstraction used by every
// kiosk component.
//
// Components never import a logging library directly. They receive a
// Logger at construction time and attach typed fields:
//
//	logger.Info("heartbeat", log.Int("shelf", 3))
//
// The daemon wires a ZerologAdapter; tests use NewNoopLogger.
//
// Component-scoped loggers are derived with With:
//
//	regLog := logger.With(log.String("component", "shelves"))
package log
