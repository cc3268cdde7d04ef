// Package playbook executes category-specific step sequences against
// processed documents. A catalog maps categories to ordered typed steps; the
// runner materializes every step up front, executes them strictly in order
// through a closed handler registry, and halts on the first failure while
// keeping the full per-step record queryable.
package playbook
