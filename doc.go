// Package jtx provides a declarative engine that upgrades a
// server-rendered HTML document into a reactive view.
//
// The engine scans a document for definitions (named states and named
// data sources), compiles the attribute expressions that reference
// them, and keeps the affected nodes in sync as values change.
//
// The core code is in package 'core'.  The document tree lives in
// 'dom', the expression interpreter in 'interp', and some command-line
// tools are in 'cmd'.
package jtx
