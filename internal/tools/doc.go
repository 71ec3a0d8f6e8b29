// Package tools implements the tool handlers behind the dispatcher:
// file access, system inspection and command execution, web scraping
// and API calls, code analysis, git operations, database queries, and
// AI generation.
//
// Handlers trust their path arguments: the gate confines them before
// dispatch, so a handler receives absolute paths already inside the
// sandbox. Everything else a handler touches (command strings, URLs,
// SQL) it validates or bounds itself. Handlers return payload structs
// with json tags and signal failures with dispatch.Error values so the
// dispatcher can map them onto the stable error taxonomy.
package tools
