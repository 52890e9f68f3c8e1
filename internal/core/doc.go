// Package core converts source-schema metadata exports into the target schema.
//
// The package holds all conversion logic independent of any transport or
// store. It can be used by web handlers, the CLI, or tests without
// modification.
//
// # Architecture
//
// A run moves through these stages:
//
//   - Reference data: the foundational kinds (organisations, frameworks,
//     taxonomies, modules ...) are loaded into frozen [LookupTable]s by
//     [LoadReferenceData], which also derives the template to framework index.
//   - Rules: every transformed kind registers a [Rule] at init time. Rules run
//     in Order so a kind only references kinds processed before it.
//   - Transform: [Transform] applies a rule to one [SourceRow] inside a
//     [RowScope], producing a [TargetRow] and its resolved identifier.
//   - Graph: [BuildGraph] links the transformed rows along [DefaultLinks].
//   - Document: [DocumentWriter] serializes the [Document], streaming large
//     sections in chunks.
//
// [Run] drives the stages for one directory; [Service] runs them in the
// background with a concurrency cap.
//
// # Rule Registry
//
// Rules are registered at init time using [Register]:
//
//	core.Register(&core.Rule{
//	    Kind:     core.KindDomain,
//	    Section:  core.SectionDomains,
//	    File:     "Domain.csv",
//	    IDColumn: "DomainID",
//	    Renames:  []core.Rename{{From: "DomainCode", To: "domain_code"}},
//	})
//
// # Identifiers
//
// Every row gets an identifier through a fallback chain: direct lookup,
// foreign-key traversal (at most [MaxResolveHops] hops), framework code
// pattern, and finally a marker built from the run's [Defaults]. Resolution
// never fails; the strategy used is counted in the run metadata.
//
// # Error Handling
//
// Data problems never abort a run. They are collected in [RunMetadata].
// Only missing reference data, a failing [Sink] and cancellation end a run
// early. Technical errors are mapped to user-facing messages by [MapError].
package core
