// Package ui implements the `monitor` terminal dashboard using bubbletea's Elm architecture.
//
// The dashboard polls a running bridge on a fixed interval and shows:
//  1. [DashboardView] : bridge state, account state and recent imports
//  2. [DetailView] : every field of the selected import
//
// The [Model] implements bubbletea's Init/Update/View pattern and receives results via the Msg union type.
// Bridge calls run as [tea.Cmd]s so a slow or stopped bridge never blocks rendering.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, r, c, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
