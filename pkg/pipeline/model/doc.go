// Package model holds the types shared by the pipeline package and its
// options: step descriptions, per-source outcomes and the option hooks.
package model
