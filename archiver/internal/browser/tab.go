package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// OpenEntryPage opens entryURL in a new stealth tab unless a tab already
// shows it. Navigation load failures are logged, not returned.
func OpenEntryPage(ctx context.Context, b *rod.Browser, entryURL string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	targets, err := proto.TargetGetTargets{}.Call(b.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: list targets: %w", err)
	}
	if hasTab(targets.TargetInfos, entryURL) {
		logger.Debug("browser: entry page already open", "url", entryURL)
		return nil
	}

	page, err := stealth.Page(b.Context(ctx))
	if err != nil {
		return fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(entryURL); err != nil {
		logger.Warn("browser: navigate entry page", "url", entryURL, "error", err)
		return nil
	}
	logger.Info("browser: opened entry page", "url", entryURL)
	return nil
}

func hasTab(infos []*proto.TargetTargetInfo, prefix string) bool {
	for _, info := range infos {
		if info != nil && info.Type == proto.TargetTargetInfoTypePage && strings.HasPrefix(info.URL, prefix) {
			return true
		}
	}
	return false
}
