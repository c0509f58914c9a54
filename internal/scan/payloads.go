package scan

import (
	"encoding/json"
	"fmt"
)

// StepPayload is the tagged union carried as a step's input or output.
// Each step kind has its own strongly-typed variant.
type StepPayload interface {
	PayloadKind() StepKind
}

// ScrapeInput names the sources a scraping step should fan out over.
type ScrapeInput struct {
	SourceIDs []string `json:"source_ids"`
}

// PayloadKind implements StepPayload.
func (ScrapeInput) PayloadKind() StepKind { return StepScraping }

// SourceScrapeResult summarizes one source's outcome within a scraping step.
type SourceScrapeResult struct {
	SourceID     string   `json:"source_id"`
	ATSType      ATSType  `json:"ats_type"`
	PagesFetched int      `json:"pages_fetched"`
	JobsFetched  int      `json:"jobs_fetched"`
	Skipped      bool     `json:"skipped,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// ScrapeOutput aggregates the fan-out results of a scraping step.
type ScrapeOutput struct {
	Sources []SourceScrapeResult `json:"sources"`
	Jobs    []CanonicalJob       `json:"jobs,omitempty"`
}

// PayloadKind implements StepPayload.
func (ScrapeOutput) PayloadKind() StepKind { return StepScraping }

// ExtractOutput records upsert results for the extracting step.
type ExtractOutput struct {
	JobsUpserted int `json:"jobs_upserted"`
	JobsUpdated  int `json:"jobs_updated"`
}

// PayloadKind implements StepPayload.
func (ExtractOutput) PayloadKind() StepKind { return StepExtracting }

// MatchOutput carries the contacts found by the matching step.
type MatchOutput struct {
	Contacts []Contact `json:"contacts"`
}

// PayloadKind implements StepPayload.
func (MatchOutput) PayloadKind() StepKind { return StepMatching }

// WriteOutput carries the drafts produced by the writing step.
type WriteOutput struct {
	Drafts []Draft `json:"drafts"`
}

// PayloadKind implements StepPayload.
func (WriteOutput) PayloadKind() StepKind { return StepWriting }

// BlueprintOutput carries the application blueprint text.
type BlueprintOutput struct {
	Blueprint string `json:"blueprint"`
}

// PayloadKind implements StepPayload.
func (BlueprintOutput) PayloadKind() StepKind { return StepBlueprint }

// DoneOutput is the terminal step's run summary.
type DoneOutput struct {
	Summary string `json:"summary"`
}

// PayloadKind implements StepPayload.
func (DoneOutput) PayloadKind() StepKind { return StepDone }

type payloadEnvelope struct {
	Kind StepKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes a payload with its kind tag so it can be
// decoded back into the right variant.
func MarshalPayload(p StepPayload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.PayloadKind(), Data: data})
}

// UnmarshalPayload decodes a tagged payload envelope. Scraping payloads
// decode as outputs; a raw ScrapeInput round-trips through ScrapeOutput
// only via the step record, which stores input and output separately.
func UnmarshalPayload(raw []byte) (StepPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal payload envelope: %w", err)
	}
	var (
		p   StepPayload
		err error
	)
	switch env.Kind {
	case StepScraping:
		var v ScrapeOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	case StepExtracting:
		var v ExtractOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	case StepMatching:
		var v MatchOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	case StepWriting:
		var v WriteOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	case StepBlueprint:
		var v BlueprintOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	case StepDone:
		var v DoneOutput
		err = json.Unmarshal(env.Data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
	}
	return p, nil
}
