// Package optimizer minimizes a sum of squared residuals with a
// Levenberg-Marquardt trust-region method built on gonum.
package optimizer
