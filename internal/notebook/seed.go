package notebook

import (
	"context"
	"fmt"
	"time"

	"github.com/lotas/cognito/internal/applog"
	"github.com/lotas/cognito/internal/types"
)

// demoImage is a 64x64 grey square.
const demoImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAEAAAABACAYAAACqaXHeAAAAAXNSR0IArs4c6QAAAHBJREFUOE9jZGBg+M/AIAQQFgIwYGZgFGP+HwygYBSLgBSGAoYBAxkgCIMmBAMAAAEwWwO5/0u7AAAAAElFTkSuQmCC"

// DemoCards returns the sample notebook, timestamped relative to now.
func DemoCards(now time.Time) []types.Card {
	ms := now.UnixMilli()
	return []types.Card{
		{
			Type:      types.CardText,
			Content:   `The latest report shows a 15% increase in Q3 revenue, driven by the new "Phoenix" project.`,
			SourceURL: "http://example.com",
			CreatedAt: ms,
			Summary:   "15% Q3 revenue increase from Phoenix project.",
			Tags:      []string{"finance", "revenue", "phoenix project"},
		},
		{
			Type:       types.CardImage,
			Content:    demoImage,
			SourceURL:  "http://example.com",
			CreatedAt:  ms - 10000,
			Summary:    "Chart showing user engagement over time.",
			Tags:       []string{"data", "user engagement", "chart"},
			Provenance: &types.ProvenanceResult{Status: types.ProvenanceUnverified},
		},
		{
			Type:      types.CardText,
			Content:   `Client feedback has been overwhelmingly positive regarding the new UI/UX update. Key themes include "intuitive" and "responsive".`,
			SourceURL: "http://example.com",
			CreatedAt: ms - 20000,
			Summary:   "Positive client feedback on UI/UX update.",
			Tags:      []string{"ux", "feedback", "design"},
		},
	}
}

// SeedDemo clears the notebook and loads the sample cards. It returns the
// inserted ids in insertion order.
func (n *Notebook) SeedDemo(ctx context.Context, now time.Time) ([]int64, error) {
	if err := n.store.Clear(ctx); err != nil {
		return nil, err
	}
	var ids []int64
	for _, c := range DemoCards(now) {
		id, err := n.store.Insert(ctx, c)
		if err != nil {
			return ids, fmt.Errorf("seed: %w", err)
		}
		ids = append(ids, id)
	}
	applog.Info("notebook.seed", "cards", len(ids))
	return ids, nil
}
