// Package harness runs rewrite scenarios: declarative test cases that pair a
// plugin configuration with a request, an input tree and the expected
// result.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: top_scores
//	description: "Filters, sorts and truncates items"
//	config: items.cue          # relative to the scenario file
//	fields: [title, items.id, items.double]
//	context: {top: 2}
//	async: false
//	sql: |
//	  CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
//	input:
//	  title: Top
//	  items: [{id: 1, score: 3}]
//	expect:
//	  title: Top
//	  items: [{id: 1, double: 6}]
//	expect_fields: [title, items.id, items.score]
//
// expect_error replaces expect and expect_fields for scenarios whose request
// or rewrite must fail; it holds a substring of the error message, usually
// an error code such as INVALID_FIELD.
//
// # Deterministic Testing
//
// Every scenario runs with a fresh in-memory SQLite database, a fixed run id
// and no request cache, so repeated runs produce identical results.
// Snapshot renders a result as canonical JSON for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/top_scores.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
