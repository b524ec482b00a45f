//go:build ignore

// SPDX-License-Identifier: Apache-2.0
// Agent Factory Tracing & Skill Dashboards
// This file documents dashboard templates for Grafana or any OTLP metrics UI.
//
// DASHBOARD: Skill Outcomes
//   Success, failure and partial results per skill.
//
//   Queries:
//   - factory.skills.executions{factory.skill.name, factory.skill.status} (rate 5m)
//     Display: Stacked bar per skill, one color per status
//     Success rate: success / total (PARTIAL counts in the total only)
//
//   - factory.skills.execution_time_ms{factory.skill.name}
//     Display: Heatmap, p50/p95/p99 lines
//
//   - factory.skills.validation.failures{factory.skill.name} (rate 5m)
//     Display: Single stat; a spike usually means a caller changed its inputs
//
// DASHBOARD: Span Persistence
//   Health of the async write path.
//
//   Queries:
//   - factory.tracing.spans.started{factory.span.type}
//   - factory.tracing.spans.ended{factory.span.type, factory.span.status}
//     Display: Dual line chart; the gap between both is the number of open spans
//
//   - factory.tracing.write.retries (rate 5m)
//   - factory.tracing.write.dropped{final} (rate 5m)
//     Display: Line chart; any drop with final="true" means a closed span was lost
//
//   - factory.tracing.write.latency_ms
//     Display: Heatmap
//
//   - factory.circuitbreaker.state{component="span-store"}
//     Display: Status panel (0=open, 1=half-open, 2=closed)
//
// DASHBOARD: Span Integrity
//
//   Queries:
//   - factory.tracing.nesting.violations{factory.span.type} (rate 15m)
//     Insight: a parent closed before its children; look at the flagged spans
//     with `factory traces errors`
//
//   - factory.tracing.orphans{factory.span.type, in_process}
//   - factory.runtime.orphans (gauge, last sweep)
//   - factory.runtime.orphan.sweep.latency_ms
//     Insight: in_process="false" orphans come from a crashed process
//
// ALERT RULES (Prometheus/AlertManager format):
//
// Alert 1: Spans Dropped
//   Name: FactorySpansDropped
//   Condition: increase(factory.tracing.write.dropped{final="true"}[10m]) > 0
//   Severity: warning
//   Action: Check the span store (disk, locks) and factory.errors.total{error.code="TRACER_WRITE_FAILURE"}
//
// Alert 2: Store Breaker Open
//   Name: FactoryTraceStoreBreakerOpen
//   Condition: factory.circuitbreaker.state{component="span-store"} == 0
//   Duration: 1m
//   Severity: critical
//
// Alert 3: Skill Failure Rate
//   Name: FactorySkillFailureRate
//   Condition: rate(factory.skills.executions{factory.skill.status="failure"}[5m])
//              / rate(factory.skills.executions[5m]) > 0.2
//   Duration: 5m
//   Severity: warning
//
// Alert 4: Orphans Accumulating
//   Name: FactoryOrphanSpans
//   Condition: factory.runtime.orphans > 0 for 30m
//   Severity: info
//
// COST (from the span store, not metrics):
//   factory traces cost --group-by model --since 24h
//   factory traces cost --group-by provider --since 168h
//
package main

// This file is documentation only and is not compiled.
