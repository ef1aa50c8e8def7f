package main

import (
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-customs/pkg/domain"
	"github.com/sirosfoundation/go-customs/pkg/pipeline"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

// inputFile is the JSON document read by submit. Shipment is looked up in
// Voyage by id.
type inputFile struct {
	Voyage     *domain.Voyage   `json:"voyage,omitempty"`
	ShipmentID string           `json:"shipmentId,omitempty"`
	Tracks     []string         `json:"tracks,omitempty"`
	Reference  string           `json:"reference,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Position   *domain.Position `json:"position,omitempty"`
	Vessel     *domain.Vessel   `json:"vessel,omitempty"`
}

func (f *inputFile) input() (wire.Input, error) {
	in := wire.Input{
		Voyage:    f.Voyage,
		Tracks:    f.Tracks,
		Reference: f.Reference,
		Reason:    f.Reason,
		Position:  f.Position,
		Vessel:    f.Vessel,
	}
	if f.ShipmentID == "" {
		return in, nil
	}
	if f.Voyage == nil {
		return in, fmt.Errorf("shipmentId %q given without a voyage", f.ShipmentID)
	}
	for i := range f.Voyage.Shipments {
		if f.Voyage.Shipments[i].ID == f.ShipmentID {
			in.Shipment = &f.Voyage.Shipments[i]
			return in, nil
		}
	}
	return in, fmt.Errorf("voyage %s has no shipment %q", f.Voyage.ID, f.ShipmentID)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func readAttachment(path, kind string) (domain.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return domain.Attachment{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Kind:        kind,
		Content:     content,
	}, nil
}

func readAttachments(paths []string, kind string) ([]domain.Attachment, error) {
	var out []domain.Attachment
	for _, p := range paths {
		att, err := readAttachment(p, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

// printResult prints whatever result the run produced before returning its
// error
func (a *app) printResult(res *pipeline.Result, err error) error {
	if res != nil {
		if perr := a.print(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

type companyFlags struct {
	company     string
	environment string
}

func (f *companyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.company, "company", "", "company id")
	cmd.Flags().StringVar(&f.environment, "env", "", "environment")
	_ = cmd.MarkFlagRequired("company")
	_ = cmd.MarkFlagRequired("env")
}

func submitCommand(a *app) *cobra.Command {
	var (
		target      companyFlags
		operation   string
		inputPath   string
		linked      []string
		attachments []string
		kind        string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a single operation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f inputFile
			if inputPath != "" {
				if err := readJSON(inputPath, &f); err != nil {
					return err
				}
			}
			in, err := f.input()
			if err != nil {
				return err
			}
			atts, err := readAttachments(attachments, kind)
			if err != nil {
				return err
			}

			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			company, err := e.Company(target.company)
			if err != nil {
				return err
			}
			return a.printResult(e.Pipeline.Submit(cmd.Context(), pipeline.Submission{
				Operation:       wire.Operation(operation),
				Company:         company,
				Environment:     target.environment,
				Input:           in,
				LinkedDomainIDs: linked,
				Attachments:     atts,
			}))
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&operation, "operation", "", "operation name, see 'customsctl operations'")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON input document")
	cmd.Flags().StringSliceVar(&linked, "linked", nil, "linked voyage or bill ids")
	cmd.Flags().StringArrayVar(&attachments, "attach", nil, "document uploaded after success (py only, repeatable)")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind of the attachments")
	_ = cmd.MarkFlagRequired("operation")
	return cmd
}

type voyageFlags struct {
	companyFlags
	voyagePath  string
	linked      []string
	attachments []string
	kind        string
}

func (f *voyageFlags) register(cmd *cobra.Command) {
	f.companyFlags.register(cmd)
	cmd.Flags().StringVar(&f.voyagePath, "voyage", "", "JSON voyage snapshot")
	cmd.Flags().StringSliceVar(&f.linked, "linked", nil, "linked ids, the voyage id when empty")
	cmd.Flags().StringArrayVar(&f.attachments, "attach", nil, "document uploaded after a fluvial voyage (repeatable)")
	cmd.Flags().StringVar(&f.kind, "kind", "", "document kind of the attachments")
	_ = cmd.MarkFlagRequired("voyage")
}

func (f *voyageFlags) submission(a *app, cmd *cobra.Command) (pipeline.VoyageSubmission, error) {
	var v domain.Voyage
	if err := readJSON(f.voyagePath, &v); err != nil {
		return pipeline.VoyageSubmission{}, err
	}
	atts, err := readAttachments(f.attachments, f.kind)
	if err != nil {
		return pipeline.VoyageSubmission{}, err
	}
	e, err := a.engine(cmd.Context())
	if err != nil {
		return pipeline.VoyageSubmission{}, err
	}
	company, err := e.Company(f.company)
	if err != nil {
		return pipeline.VoyageSubmission{}, err
	}
	return pipeline.VoyageSubmission{
		Company:         company,
		Environment:     f.environment,
		Voyage:          &v,
		LinkedDomainIDs: f.linked,
		Attachments:     atts,
	}, nil
}

func voyageCommand(a *app) *cobra.Command {
	var (
		flags   voyageFlags
		fluvial bool
	)
	cmd := &cobra.Command{
		Use:   "voyage",
		Short: "Submit every step of a voyage",
		Long: "Registers the title and detail of every shipment and then the manifest (ar),\n" +
			"or with --fluvial the manifest header, bills of lading and route sheet (py).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, err := flags.submission(a, cmd)
			if err != nil {
				return err
			}
			if fluvial {
				return a.printResult(a.eng.Pipeline.SubmitFluvialVoyage(cmd.Context(), sub))
			}
			return a.printResult(a.eng.Pipeline.SubmitVoyage(cmd.Context(), sub))
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&fluvial, "fluvial", false, "submit to the py fluvial manifest service")
	return cmd
}

func resumeCommand(a *app) *cobra.Command {
	var flags voyageFlags
	cmd := &cobra.Command{
		Use:   "resume TRANSACTION",
		Short: "Run a failed voyage again, skipping acknowledged steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := flags.submission(a, cmd)
			if err != nil {
				return err
			}
			return a.printResult(a.eng.Pipeline.Resume(cmd.Context(), args[0], sub))
		},
	}
	flags.register(cmd)
	return cmd
}

func attachCommand(a *app) *cobra.Command {
	var (
		target    companyFlags
		path      string
		kind      string
		reference string
	)
	cmd := &cobra.Command{
		Use:   "attach TRANSACTION",
		Short: "Upload a document for a successful py submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			att, err := readAttachment(path, kind)
			if err != nil {
				return err
			}
			e, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			company, err := e.Company(target.company)
			if err != nil {
				return err
			}
			return a.printResult(e.Pipeline.Attach(cmd.Context(), pipeline.AttachmentRequest{
				ParentID:    args[0],
				Company:     company,
				Environment: target.environment,
				Reference:   reference,
				Attachment:  att,
			}))
		},
	}
	target.register(cmd)
	cmd.Flags().StringVar(&path, "file", "", "document to upload")
	cmd.Flags().StringVar(&kind, "kind", "", "document kind")
	cmd.Flags().StringVar(&reference, "reference", "", "reference, the parent's external reference when empty")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
