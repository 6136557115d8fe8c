package handler

import (
	"context"
	"strconv"

	"github.com/gosight/pagelab/internal/content"
	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/splittest"
)

// localExperiments answers the experiment pipeline in process for one
// visitor, so pages can be served with their variant already applied.
type localExperiments struct {
	h       *HTTPHandler
	visitor splittest.Visitor
	ip      string
}

var _ experiment.Service = (*localExperiments)(nil)

func (l *localExperiments) ActiveVariant(ctx context.Context, pageID, testType string) (experiment.VariantInfo, error) {
	id, err := strconv.ParseInt(pageID, 10, 64)
	if err != nil {
		return experiment.VariantInfo{}, err
	}

	a, ok, err := l.h.tests.VariantFor(ctx, id, testType, l.visitor)
	if err != nil || !ok {
		return experiment.VariantInfo{}, err
	}
	return experiment.VariantInfo{
		ActiveTest:       true,
		TestID:           formatID(a.Test.ID),
		VariantID:        formatID(a.Variant.ID),
		TestType:         a.Test.Type,
		ContentVersionID: formatID(a.Variant.ContentVersionID),
		GoalPageID:       formatID(a.Test.GoalPageID),
	}, nil
}

func (l *localExperiments) ContentVersion(ctx context.Context, versionID string) (content.Map, error) {
	id, err := strconv.ParseInt(versionID, 10, 64)
	if err != nil {
		return nil, err
	}
	return l.h.sites.VersionContent(ctx, id)
}

func (l *localExperiments) GoalPage(ctx context.Context, testID string) (string, error) {
	id, err := strconv.ParseInt(testID, 10, 64)
	if err != nil {
		return "", err
	}
	t, err := l.h.tests.Test(ctx, id)
	if err != nil {
		return "", err
	}
	return formatID(t.GoalPageID), nil
}

func (l *localExperiments) RecordConversion(ctx context.Context, testID, variantID string) error {
	tid, err := strconv.ParseInt(testID, 10, 64)
	if err != nil {
		return err
	}
	vid, err := strconv.ParseInt(variantID, 10, 64)
	if err != nil {
		return err
	}

	recorded, err := l.h.recordConversion(ctx, tid, vid, l.visitor, l.ip)
	if err != nil {
		return err
	}
	if !recorded {
		l.h.log.Debug().Str("test_id", testID).Str("visitor_id", l.visitor.ID).Msg("Already converted")
	}
	return nil
}

func (l *localExperiments) RecordPageView(ctx context.Context, pageID string) error {
	id, err := strconv.ParseInt(pageID, 10, 64)
	if err != nil {
		return err
	}
	l.h.recordPageView(ctx, id, l.visitor, l.ip)
	return nil
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
