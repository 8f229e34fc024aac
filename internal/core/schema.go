package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// fisSchema is the strict shape accepted at the ingestion boundary.
// Amounts may arrive as numbers or numeric strings.
const fisSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "amount": {
      "oneOf": [
        {"type": "number"},
        {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"},
        {"type": "null"}
      ]
    },
    "item": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name":       {"type": ["string", "null"], "maxLength": 500},
        "quantity":   {"$ref": "#/$defs/amount"},
        "unit_price": {"$ref": "#/$defs/amount"},
        "kdv":        {"$ref": "#/$defs/amount"},
        "total":      {"$ref": "#/$defs/amount"}
      }
    }
  },
  "type": "object",
  "additionalProperties": false,
  "required": ["fis_no", "total"],
  "properties": {
    "fis_no":     {"type": "string", "minLength": 1, "maxLength": 128},
    "tarih_saat": {"type": ["string", "null"], "format": "date-time"},
    "total":      {"$ref": "#/$defs/amount"},
    "total_kdv":  {"$ref": "#/$defs/amount"},
    "items":      {"type": "array", "items": {"$ref": "#/$defs/item"}, "maxItems": 1000}
  }
}`

// lineSumTolerance is how far the line totals may drift from the receipt
// total before a warning is reported.
var lineSumTolerance = decimal.RequireFromString("0.05")

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func ingestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("fis.json", strings.NewReader(fisSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("fis.json")
	})
	return compiledSchema, schemaErr
}

// ParseIngestPayload validates a receipt written back by the extraction
// workflow and normalizes it: absent numeric fields become zero, absent
// names become "", a missing item list becomes empty. The advisory
// invariants (line totals approximate the total, tax within the total)
// are reported as warnings, never enforced.
func ParseIngestPayload(data []byte) (NewFis, []string, error) {
	schema, err := ingestSchema()
	if err != nil {
		return NewFis{}, nil, fmt.Errorf("ingest schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return NewFis{}, nil, &ValidationError{Field: "body", Message: "invalid request body: " + err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return NewFis{}, nil, &ValidationError{Field: "body", Message: "does not match schema: " + err.Error()}
	}

	var in NewFis
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&in); err != nil {
		return NewFis{}, nil, &ValidationError{Field: "body", Message: "invalid request body: " + err.Error()}
	}
	NormalizeNewFis(&in)
	return in, ingestWarnings(in), nil
}

// NormalizeNewFis trims text fields and guarantees a non-nil item list.
func NormalizeNewFis(in *NewFis) {
	in.FisNo = strings.TrimSpace(in.FisNo)
	if in.Items == nil {
		in.Items = []LineItem{}
	}
	for i := range in.Items {
		in.Items[i].Name = strings.TrimSpace(in.Items[i].Name)
	}
}

func ingestWarnings(in NewFis) []string {
	var warnings []string
	if len(in.Items) > 0 {
		sum := decimal.Zero
		for _, it := range in.Items {
			sum = sum.Add(it.Total)
		}
		if sum.Sub(in.Total).Abs().GreaterThan(lineSumTolerance) {
			warnings = append(warnings, fmt.Sprintf("line totals sum to %s but receipt total is %s",
				sum.StringFixed(2), in.Total.StringFixed(2)))
		}
	}
	if in.TotalKDV.GreaterThan(in.Total) {
		warnings = append(warnings, fmt.Sprintf("total_kdv %s exceeds total %s",
			in.TotalKDV.StringFixed(2), in.Total.StringFixed(2)))
	}
	return warnings
}
