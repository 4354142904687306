package binding

import "go.uber.org/zap"

// LogNotifier logs generated recording URLs instead of sending them. It
// stands in until an outbound email or SMS integration owns delivery.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// BindingGenerated implements Notifier.
func (n *LogNotifier) BindingGenerated(ref, recordingURL string) {
	n.logger.Info("binding generated", zap.String("ref", ref), zap.String("recording_url", recordingURL))
}
