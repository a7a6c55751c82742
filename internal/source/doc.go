// Package source reads collection and item pages. It turns raw pages from a
// Getter into harvest collections and item text using CSS selectors, and
// recognizes anti-bot challenge interstitials.
package source
