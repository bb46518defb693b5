package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/eykd/suremd-go/internal/document"
	"github.com/eykd/suremd-go/internal/workdir"
)

// RunBatch runs docs in order inside the build directory. onReport, when
// non-nil, is called after each document.
//
// A document that returns with a different stack depth than it started
// with is a *workdir.LeakError; the batch stops immediately and the error
// is returned with the reports gathered so far. Cancelling ctx stops the
// batch between documents and returns ctx.Err().
func (e *Engine) RunBatch(ctx context.Context, stack *workdir.Stack, docs []*document.Document, onReport func(Report)) (Summary, error) {
	var sum Summary
	base := stack.Depth()
	if err := stack.Push(e.cfg.BuildDir); err != nil {
		return sum, fmt.Errorf("creating build directory: %w", err)
	}
	e.logger.Info("running batch", "documents", len(docs), "build_dir", stack.Dir())

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return sum, errors.Join(err, leaveBuildDir(stack))
		}
		depth := stack.Depth()
		rep := e.RunDocument(ctx, stack, doc)
		sum.add(rep)
		if onReport != nil {
			onReport(rep)
		}
		if err := stack.CheckDepth(doc.Display, depth); err != nil {
			return sum, err
		}
		if rep.Failed() && e.cfg.FailFast {
			e.logger.Info("stopping after failed document", "document", doc.Display)
			sum.Stopped = true
			break
		}
	}

	if err := leaveBuildDir(stack); err != nil {
		return sum, err
	}
	if err := stack.CheckDepth("batch", base); err != nil {
		return sum, err
	}
	return sum, nil
}

func leaveBuildDir(stack *workdir.Stack) error {
	if err := stack.Pop(); err != nil {
		return fmt.Errorf("leaving build directory: %w", err)
	}
	return nil
}
