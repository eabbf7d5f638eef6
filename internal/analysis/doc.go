// Package analysis provides trajectory-level characterization tools:
// Lyapunov spectra via QR reorthonormalization of the variational
// flow, the Kaplan-Yorke dimension, and isocline extraction on
// sampled grids.
package analysis
