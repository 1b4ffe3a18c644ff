// Package agent serves the axis verification harness to MCP clients.
//
// The server speaks MCP over stdio and offers three tools:
//
//   - axis_list_cases lists the built-in catalog, optionally by tag.
//   - axis_run_cases runs a selection of cases on one or more axes and
//     returns the suite result as JSON. Destructive cases only run when
//     explicitly allowed, since nobody can confirm them interactively.
//   - axis_last_result returns the last result of this server or, with run
//     history enabled, any stored run.
//
// Example usage:
//
//	s := agent.NewServer(version, baseConfig, runFunc, store)
//	if err := s.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package agent
