// Package annotator guesses the business domain of a dataset (sales,
// financial, customer, inventory, web analytics, HR) from its column names.
// It only reads a finished Summary and never changes pipeline output.
package annotator
