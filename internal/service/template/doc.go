// Package template manages email template CRUD. Content edits bump the
// template version so renderer caches keyed on (id, version) never serve
// stale parses. Broken Liquid is rejected at write time, before a campaign
// can reference it.
package template
