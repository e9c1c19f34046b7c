package server

import (
	"preflight/internal/domain"
	"preflight/internal/engine"
)

type ImportRowsRequest struct {
	Rows []domain.Row `json:"rows"`
}

type ImportResponse struct {
	Kind        string              `json:"kind"`
	Rows        int                 `json:"rows"`
	Records     int                 `json:"records"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
	Cross       []domain.Diagnostic `json:"cross"`
}

func importResponse(res engine.ImportResult) ImportResponse {
	return ImportResponse{
		Kind:        string(res.Kind),
		Rows:        res.Rows,
		Records:     res.Records,
		Diagnostics: emptyIfNil(res.Diagnostics),
		Cross:       emptyIfNil(res.Cross),
	}
}

type DiagnosticsResponse struct {
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

type EditRecordRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type RulesRequest struct {
	Rules []domain.Rule `json:"rules"`
}

type RulesResponse struct {
	Rules []domain.Rule `json:"rules"`
}

type RulesSaveResponse struct {
	Rules       int                 `json:"rules"`
	Diagnostics []domain.Diagnostic `json:"diagnostics"`
}

type WeightsRequest struct {
	Weights domain.Weights `json:"weights"`
}

type WeightsResponse struct {
	Weights domain.Weights `json:"weights"`
}

func emptyIfNil(diags []domain.Diagnostic) []domain.Diagnostic {
	if diags == nil {
		return []domain.Diagnostic{}
	}
	return diags
}

func emptyRulesIfNil(rules []domain.Rule) []domain.Rule {
	if rules == nil {
		return []domain.Rule{}
	}
	return rules
}
