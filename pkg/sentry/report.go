// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"fmt"

	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeFatal:
		reportFatal(err, log, context)
	case IssueTypeError:
		report(sentryLevel(issueType), err, log, context)
	case IssueTypeWarning:
		report(sentryLevel(issueType), err, log, context)
	}
}

// ReportIssuefWithContext formats an error message and reports it with additional context data.
func ReportIssuefWithContext(issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}, template string, args ...interface{}) {
	ReportIssueWithContext(fmt.Errorf(template, args...), issueType, log, context)
}

// ReportSessionError reports a failure in a tenant's session lifecycle.
func ReportSessionError(log *zap.SugaredLogger, tenant string, state string, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, sessionContext(tenant, state, operation))
}

// ReportSessionErrorf formats a session lifecycle failure and reports it.
func ReportSessionErrorf(log *zap.SugaredLogger, tenant string, state string, operation string, template string, args ...interface{}) {
	ReportIssuefWithContext(IssueTypeError, log, sessionContext(tenant, state, operation), template, args...)
}

// ReportSessionWarning reports a recoverable session problem, for example a
// teardown that needed the force path.
func ReportSessionWarning(log *zap.SugaredLogger, tenant string, state string, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeWarning, log, sessionContext(tenant, state, operation))
}

// ReportServiceError reports a failure of a supporting service.
func ReportServiceError(log *zap.SugaredLogger, serviceID string, serviceType string, operation string, err error) {
	ReportIssueWithContext(err, IssueTypeError, log, map[string]interface{}{
		"service_id":   serviceID,
		"service_type": serviceType,
		"operation":    operation,
	})
}

func sessionContext(tenant, state, operation string) map[string]interface{} {
	return map[string]interface{}{
		"tenant":    tenant,
		"state":     state,
		"operation": operation,
	}
}
