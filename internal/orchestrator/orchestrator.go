// Package orchestrator is pure glue: load the schema, load the submission,
// run the policy and specification engines, dispatch the XML artifact, and
// hand it to the store client. No business rule lives here — every decision
// belongs to the package it's named after.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sead-project/clearinghouse-import/internal/cherr"
	"github.com/sead-project/clearinghouse-import/internal/metrics"
	"github.com/sead-project/clearinghouse-import/internal/policy"
	"github.com/sead-project/clearinghouse-import/internal/schema"
	"github.com/sead-project/clearinghouse-import/internal/specification"
	"github.com/sead-project/clearinghouse-import/internal/store"
	"github.com/sead-project/clearinghouse-import/internal/submission"
	"github.com/sead-project/clearinghouse-import/internal/workbook"
	"github.com/sead-project/clearinghouse-import/internal/xmldispatch"
)

// Options is the language-neutral run configuration the CLI layer builds
// from flags and the orchestrator consumes directly.
type Options struct {
	InputPath      string
	OutputFolder   string
	SubmissionName string
	DataTypes      string
	TableNames     []string // empty means every table the dispatcher would emit

	XMLFilename    string // reuse a previously emitted artifact instead of dispatching
	SubmissionID   int64  // reuse a registered submission instead of registering a new one

	CheckOnly      bool
	Register       bool
	Explode        bool
	TidyXML        bool
	Timestamp      bool
	Skip           bool
	TransferFormat string // "xml" or "csv"

	IgnoreColumns    []string
	Policy           policy.Config
	DisabledPolicies []string
}

// useExistingSubmission reports whether a submission id was supplied instead
// of one to be freshly registered.
func (o Options) useExistingSubmission() bool { return o.SubmissionID > 0 }

func (o Options) basename() string {
	base := filepath.Base(o.InputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (o Options) sourceName() string {
	if o.InputPath != "" {
		return filepath.Base(o.InputPath)
	}
	return o.SubmissionName
}

func (o Options) targetPath() string {
	if o.Timestamp {
		return filepath.Join(o.OutputFolder, fmt.Sprintf("%s_%s.xml", o.basename(), time.Now().UTC().Format("20060102-150405")))
	}
	return filepath.Join(o.OutputFolder, o.basename()+".xml")
}

// Runner wires the already-connected collaborators the orchestrator drives:
// the schema, the store client, and (optionally) the CSV transfer uploader
// and S3 archiver.
type Runner struct {
	Schema   *schema.Schema
	Store    *store.Client
	CSV      *store.CSVUploader // only used when TransferFormat == "csv"
	Archiver *store.Archiver    // only used when the archive config names a bucket
	Metrics  *metrics.Metrics   // optional; nil disables metrics recording
}

// Run executes one submission end to end per Options, mirroring
// ImportService.process/dispatch: parse, repair, validate, (stop here if
// check-only), emit, register/upload/extract, explode/set-pending.
// Policy, specification and dispatch failures bubble as typed cherr errors;
// workbook, file and store failures are returned wrapped with context. On
// failure any artifact already written to disk is removed.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("submission", opts.basename()).Logger()

	if opts.Skip {
		logger.Debug().Msg("skipping: flagged by caller")
		return nil
	}

	sub, err := r.loadSubmission(opts)
	if err != nil {
		return err
	}

	policyEngine := policy.NewEngine(policy.DefaultPolicies(opts.Policy), opts.DisabledPolicies)
	if r.Metrics != nil {
		policyEngine.OnApplied = r.Metrics.RecordPolicyApplied
	}
	policyStart := time.Now()
	if err := policyEngine.Run(r.Schema, sub); err != nil {
		return err
	}
	if r.Metrics != nil {
		r.Metrics.ObservePolicyDuration(time.Since(policyStart))
		for _, t := range sub.DataTableNames() {
			r.Metrics.RecordRows(t, len(sub.Get(t).Rows))
		}
	}

	specEngine := specification.NewEngine(opts.IgnoreColumns)
	specStart := time.Now()
	messages, ok := specEngine.IsSatisfiedBy(r.Schema, sub)
	if r.Metrics != nil {
		r.Metrics.ObserveSpecificationDuration(time.Since(specStart))
		r.Metrics.RecordDiagnostics(len(messages.Errors), len(messages.Warnings), len(messages.Infos))
	}
	if !ok {
		logger.Error().Strs("errors", messages.Errors).Msg("submission does not satisfy the specification")
		return &cherr.SpecificationFailed{Messages: messages.Errors}
	}
	if opts.CheckOnly {
		logger.Debug().Msg("submission satisfies the specification (check-only, no artifact produced)")
		return nil
	}

	target := opts.XMLFilename
	if target == "" {
		target, err = r.dispatch(opts, sub)
		if err != nil {
			return err
		}
	}

	if opts.Register || opts.useExistingSubmission() {
		submissionID, err := r.upload(ctx, opts, target)
		if err != nil {
			cleanup(target)
			return err
		}
		opts.SubmissionID = submissionID
	}

	if opts.Explode && r.Store != nil {
		if err := r.Store.ExplodeToPublicTables(ctx, opts.SubmissionID, store.ExplodeOptions{}); err != nil {
			cleanup(target)
			return err
		}
		if err := r.Store.SetPending(ctx, opts.SubmissionID); err != nil {
			cleanup(target)
			return err
		}
	}

	logger.Info().Str("target", target).Msg("submission processed")
	return nil
}

func (r *Runner) loadSubmission(opts Options) (*submission.Submission, error) {
	if opts.InputPath == "" {
		return nil, fmt.Errorf("no input path supplied")
	}
	reader, err := workbook.Open(opts.InputPath, r.Schema)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", opts.InputPath, err)
	}
	defer reader.Close()

	sub, err := submission.Load(r.Schema, reader)
	if err != nil {
		return nil, err
	}
	sub.Restrict(opts.TableNames)
	if sub.SawDataTableIndex() {
		log.Debug().Msg("submission carried a data_table_index sheet; ignored")
	}
	return sub, nil
}

func (r *Runner) dispatch(opts Options, sub *submission.Submission) (string, error) {
	if err := os.MkdirAll(opts.OutputFolder, 0o755); err != nil {
		return "", fmt.Errorf("create output folder %s: %w", opts.OutputFolder, err)
	}
	target := opts.targetPath()

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create artifact %s: %w", target, err)
	}

	dispatchStart := time.Now()
	writer := xmldispatch.New(f, opts.IgnoreColumns)
	dispatchErr := writer.Dispatch(r.Schema, sub)
	closeErr := f.Close()
	if r.Metrics != nil {
		r.Metrics.ObserveDispatchDuration(time.Since(dispatchStart))
	}
	if dispatchErr != nil {
		cleanup(target)
		return "", dispatchErr
	}
	if closeErr != nil {
		cleanup(target)
		return "", fmt.Errorf("close artifact %s: %w", target, closeErr)
	}

	if opts.TidyXML {
		if err := tidyInPlace(target); err != nil {
			log.Warn().Err(err).Str("target", target).Msg("tidy pass failed; canonical artifact kept as-is")
		}
	}

	return target, nil
}

func tidyInPlace(target string) error {
	in, err := os.Open(target)
	if err != nil {
		return err
	}
	defer in.Close()

	tidyPath := strings.TrimSuffix(target, filepath.Ext(target)) + "_tidy.xml"
	out, err := os.Create(tidyPath)
	if err != nil {
		return err
	}
	defer out.Close()

	return xmldispatch.Tidy(in, out)
}

// upload registers (or reuses) a submission, uploads the artifact, and
// extracts or transfers it into staging. It returns the submission id the
// caller should use for the subsequent explode step.
func (r *Runner) upload(ctx context.Context, opts Options, target string) (int64, error) {
	if r.Store == nil {
		return 0, fmt.Errorf("register/explode requested but no store client configured")
	}

	xmlBytes, err := os.ReadFile(target)
	if err != nil {
		return 0, fmt.Errorf("read artifact %s for upload: %w", target, err)
	}

	submissionID := opts.SubmissionID
	if !opts.useExistingSubmission() {
		id, err := r.Store.Register(ctx, opts.DataTypes)
		if err != nil {
			return 0, err
		}
		submissionID = id
	} else {
		if err := r.Store.Remove(ctx, submissionID, false, false); err != nil {
			return 0, err
		}
	}

	if err := r.Store.UploadXML(ctx, submissionID, string(xmlBytes)); err != nil {
		return 0, err
	}

	switch opts.TransferFormat {
	case "csv":
		if r.CSV == nil {
			return 0, fmt.Errorf("transfer-format csv requested but no csv uploader configured")
		}
		if err := r.CSV.Upload(ctx, target, submissionID); err != nil {
			return 0, err
		}
	default:
		if err := r.Store.ExtractToStagingTables(ctx, submissionID); err != nil {
			return 0, err
		}
	}

	if r.Archiver != nil {
		if err := r.Archiver.Archive(ctx, submissionID, target); err != nil {
			log.Warn().Err(err).Msg("artifact archival failed; staging upload already succeeded")
		}
	}

	return submissionID, nil
}

func cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove partial artifact")
	}
}
