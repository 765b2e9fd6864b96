package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/decapodlabs/decapod/internal/formatter"
)

// interlockCodes is the catalog of error codes a caller may see in an
// envelope's error.code field, grouped the way the components that raise
// them are grouped. It is not exhaustive of every internal failure path,
// but covers every marker and gate code a scripted caller needs to branch
// on (§6: "decapod capabilities --format json" exposing interlock_codes).
var interlockCodes = map[string][]string{
	"plan": {
		"PLAN_ALREADY_EXISTS", "PLAN_NOT_FOUND", "PLAN_INVALID",
		"NEEDS_PLAN_APPROVAL", "NEEDS_HUMAN_INPUT", "SCOPE_VIOLATION",
	},
	"workunit": {
		"WORKUNIT_NOT_FOUND", "WORKUNIT_INVALID", "WORKUNIT_ILLEGAL_TRANSITION",
		"WORKUNIT_INTENT_REF_REQUIRED", "WORKUNIT_SPEC_REF_REQUIRED",
		"WORKUNIT_PROOF_PLAN_EMPTY", "WORKUNIT_PROOF_PLAN_INCOMPLETE",
		"WORKUNIT_CAPSULE_POLICY_LINEAGE_MISSING",
	},
	"task": {
		"TASK_NOT_FOUND",
	},
	"session": {
		"SESSION_NOT_FOUND", "SESSION_CLOSED", "SESSION_INVALID", "WORKSPACE_REQUIRED",
	},
	"capsule": {
		"CAPSULE_SCOPE_INVALID", "CAPSULE_SCOPE_DENIED", "CAPSULE_WRITE_DENIED",
		"CAPSULE_WRITE_REQUIRES_TASK_ID", "CAPSULE_RISK_TIER_UNKNOWN",
		"CAPSULE_POLICY_INVALID", "CAPSULE_POLICY_UNSUPPORTED_BINDING",
		"CAPSULE_POLICY_REPO_REVISION_UNRESOLVED", "CAPSULE_POLICY_MISSING",
	},
	"broker": {
		"BROKER_NOT_COMMITTED", "BROKER_UNKNOWN", "BROKER_PROTOCOL_MISMATCH",
		"BROKER_PROTOCOL_INVALID_REQUEST", "BROKER_PROTOCOL_INVALID_RESPONSE",
	},
	"eval": {
		"EVAL_JUDGE_JSON_CONTRACT_ERROR", "EVAL_JUDGE_TIMEOUT", "EVAL_GATE_FAILED",
	},
	"internalize": {
		"INTERNALIZATION_NOT_FOUND", "INTERNALIZATION_EXPIRED",
		"INTERNALIZATION_ADAPTER_INTEGRITY_FAILED", "INTERNALIZATION_PROFILE_UNSUPPORTED",
		"INTERNALIZATION_SOURCE_NOT_FOUND",
	},
	"validate_gates": {
		"STRUCTURE_OK", "STRUCTURE_MISSING", "GIT_WHITELIST_OK", "STORE_BOUNDARY_VIOLATION",
		"WORKSPACE_OK", "WORKSPACE_SKIPPED", "EVENT_LOG_OK", "EVENT_LOG_PARSE_FAILED", "EVENT_LOG_DUPLICATE_ID",
		"WORKUNIT_MANIFESTS_OK", "WORKUNIT_MANIFEST_INVALID", "CONTEXT_CAPSULES_OK",
		"CONTEXT_CAPSULE_READ_FAILED", "CONTEXT_CAPSULE_INVALID", "CONTEXT_CAPSULE_HASH_MISMATCH",
		"CAPSULE_POLICY_CONTRACT_OK", "CAPSULE_POLICY_SCHEMA_MISMATCH", "CAPSULE_POLICY_TIER_INVALID",
		"KNOWLEDGE_PROMOTIONS_OK", "KNOWLEDGE_PROMOTION_INVALID", "KNOWLEDGE_PROMOTION_TARGET_CLASS_INVALID",
		"KNOWLEDGE_PROMOTION_EVIDENCE_MISSING", "SKILL_CARDS_OK", "SKILL_CARD_INVALID", "SKILL_CARD_HASH_MISMATCH",
		"INTERNALIZATIONS_OK", "INTERNALIZATION_DETERMINISM_CLASS_INCONSISTENT",
		"EVAL_GATE_OK", "EVAL_GATE_NOT_REQUIRED", "EVAL_GATE_REQUIREMENT_INVALID",
		"EVAL_AGGREGATE_MISSING", "EVAL_AGGREGATE_INVALID",
	},
	"generic": {
		"STORAGE_ERROR", "NOT_FOUND", "UNKNOWN",
	},
}

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Report supported interlock error codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput() {
			return formatter.WriteEnvelope(os.Stdout, map[string]interface{}{
				"protocol_version": 1,
				"interlock_codes":  interlockCodes,
			}, nil)
		}
		for group, codes := range interlockCodes {
			fmt.Printf("%s:\n", group)
			for _, c := range codes {
				fmt.Printf("  %s\n", c)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}
