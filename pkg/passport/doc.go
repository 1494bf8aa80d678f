// Package passport implements the batch and passport lifecycle.
//
// A passport moves Draft → Completed → Published, with Lost and Taken as side
// branches. Any status can be set through update or patch; the first move to
// Published stamps PublishedAt, and later moves never overwrite it.
//
// PublishBatch publishes either the completed passports of a batch or all of
// its passports, then recomputes the batch status from the whole
// batch: Published when every passport is published, Processing otherwise.
// Both steps share one transaction.
//
// Batch and Passport implement rbac.HasOrganization, the passport through its
// batch, so handlers can run the object-level gate after loading them.
package passport
