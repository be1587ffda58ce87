package planner

// comprehensiveTemplate is the full-context analysis prompt.
// %s = service, title, summary, severity, incident id, recent logs,
// k8s events, metrics, similar incidents, recent commits, web knowledge.
const comprehensiveTemplate = `You are an expert Site Reliability Engineer (SRE) analyzing a Kubernetes incident.
Your task is to provide a comprehensive root cause analysis and remediation plan.

**INCIDENT DETAILS:**
- Service: %s
- Title: %s
- Summary: %s
- Severity: %s
- Incident ID: %s

**REAL-TIME CONTEXT:**
- Recent Logs: %s
- Kubernetes Events: %s
- System Metrics: %s

**HISTORICAL CONTEXT:**
- Similar Past Incidents: %s
- Recent Code Changes: %s

**EXTERNAL KNOWLEDGE:**
- Public Documentation & Solutions: %s

**ANALYSIS REQUIREMENTS:**
1. **Root Cause Analysis**: Identify the most likely cause based on all available context
2. **Impact Assessment**: Evaluate the severity and scope of the incident
3. **Remediation Plan**: Provide step-by-step actions to resolve the issue
4. **Risk Assessment**: Rate the risk level (1-5 scale)
5. **Verification Steps**: How to confirm the resolution
6. **Rollback Plan**: How to revert changes if needed

**OUTPUT FORMAT:**
Return ONLY valid JSON with the following structure:
{
    "root_cause": "Detailed analysis of what's happening and why",
    "impact_assessment": "Description of the impact and scope",
    "remediation_plan": [
        {
            "step": 1,
            "action": "Description of the action",
            "target": "What component/service to target",
            "command": "Specific command or action to take",
            "notes": "Additional context or warnings",
            "estimated_time": "Estimated time to complete"
        }
    ],
    "risk_score": 3,
    "verification_steps": [
        "Step 1: Check service health",
        "Step 2: Verify metrics are normal"
    ],
    "rollback_plan": [
        "Step 1: Revert configuration changes",
        "Step 2: Restart affected services"
    ],
    "prevention_recommendations": [
        "Recommendation 1: Add monitoring",
        "Recommendation 2: Update documentation"
    ]
}

**IMPORTANT GUIDELINES:**
- Prefer reversible actions first
- Include pre-checks and post-verification
- Keep commands short and safe
- Consider the service context and dependencies
- Base recommendations on the historical context when available
- Return ONLY valid JSON, no markdown formatting`

// quickTemplate is the urgent-incident prompt: minimal context, fast
// stabilization output.
// %s = service, title, severity, error logs, recent changes.
const quickTemplate = `You are an SRE responding to an urgent Kubernetes incident. Provide a quick but thorough analysis.

**INCIDENT:**
- Service: %s
- Title: %s
- Severity: %s

**KEY CONTEXT:**
- Error Logs: %s
- Recent Changes: %s

**QUICK ANALYSIS REQUIRED:**
Provide immediate actions to stabilize the service and prevent further impact.

Return JSON with:
{
    "immediate_actions": [
        {
            "action": "Quick action description",
            "command": "Specific command",
            "priority": "high|medium|low"
        }
    ],
    "root_cause_hypothesis": "Most likely cause",
    "risk_score": 4,
    "next_steps": ["Follow-up action 1", "Follow-up action 2"]
}`

// deepDiveTemplate is the complex-incident prompt: timeline, dependency
// and multi-hypothesis analysis.
// %s = service, title, duration, affected components, detailed logs,
// historical patterns, infrastructure changes, performance metrics,
// external dependencies.
const deepDiveTemplate = `You are conducting a deep dive analysis of a complex Kubernetes incident.
This requires thorough investigation and comprehensive planning.

**INCIDENT OVERVIEW:**
- Service: %s
- Title: %s
- Duration: %s
- Affected Components: %s

**COMPREHENSIVE CONTEXT:**
- Full Log Analysis: %s
- Historical Patterns: %s
- Infrastructure Changes: %s
- Performance Metrics: %s
- External Dependencies: %s

**DEEP DIVE ANALYSIS:**
1. **Timeline Analysis**: When did the issue start and how did it evolve?
2. **Dependency Analysis**: What components are affected and how?
3. **Pattern Recognition**: Are there recurring patterns in the data?
4. **Root Cause Investigation**: Multiple hypothesis testing
5. **Impact Modeling**: What could happen if not resolved?
6. **Long-term Solutions**: Beyond immediate fixes

**OUTPUT FORMAT:**
Return comprehensive JSON with:
{
    "timeline_analysis": {
        "incident_start": "Estimated start time",
        "escalation_points": ["Key escalation moments"],
        "current_state": "Current situation"
    },
    "dependency_analysis": {
        "affected_services": ["Service 1", "Service 2"],
        "critical_path": "Critical dependency chain",
        "bottlenecks": ["Identified bottlenecks"]
    },
    "root_cause_hypotheses": [
        {
            "hypothesis": "Most likely cause",
            "confidence": 0.8,
            "evidence": ["Supporting evidence"],
            "test_actions": ["How to test this hypothesis"]
        }
    ],
    "comprehensive_plan": {
        "immediate_stabilization": ["Immediate actions"],
        "investigation_phase": ["Investigation steps"],
        "resolution_phase": ["Resolution actions"],
        "validation_phase": ["Validation steps"],
        "prevention_phase": ["Prevention measures"]
    },
    "risk_assessment": {
        "current_risk": 4,
        "potential_escalation": "How it could get worse",
        "business_impact": "Impact on business operations"
    }
}`
