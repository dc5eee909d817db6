package api_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/mautops/moneylens/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupDepartment 管理员创建带负责人的部门，返回部门 ID 与负责人令牌
func setupDepartment(t *testing.T, s *testServer, adminToken string) (string, string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/departments", adminToken, map[string]interface{}{
		"name":             "Health",
		"allocated_budget": "10000",
		"head_name":        "Dr. Rao",
		"head_email":       "rao@moneylens.test",
		"head_password":    "head-password",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	dept := object(t, body["department"])
	head := object(t, body["head"])
	assert.Equal(t, model.RoleDeptHead, head["role"])
	assert.NotContains(t, w.Body.String(), "password")

	return dept["dept_id"].(string), s.login(t, "rao@moneylens.test", "head-password")
}

// TestLedger_Workflow 测试账目创建、状态流转、校验与上链
func TestLedger_Workflow(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(t, adminEmail, adminPassword)
	deptID, headToken := setupDepartment(t, s, adminToken)

	w := s.do(t, http.MethodPost, "/api/ledger", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger", headToken, map[string]interface{}{
		"dept_id": deptID,
		"to_dept": "City Hospital",
		"amount":  "1500.50",
		"purpose": "Vaccines",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	entry := object(t, decode(t, w)["transaction"])
	assert.Equal(t, model.StatusPending, entry["status"])
	assert.Equal(t, "Health", entry["from_dept"])
	assert.Equal(t, model.AnchorQueued, entry["anchor_state"])
	assert.Len(t, entry["current_hash"], 64)
	id := fmt.Sprint(entry["transaction_id"])

	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/approve", headToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusApproved, object(t, decode(t, w)["transaction"])["status"])

	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/settle", headToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 终态不允许再流转
	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/approve", headToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/reject", headToken, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/ledger/"+id+"/history", headToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/ledger/verify", headToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, object(t, decode(t, w)["verification"])["valid"])

	// 只有管理员可以手动上链
	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/anchor", headToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/anchor", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	anchored := object(t, decode(t, w)["transaction"])
	assert.Equal(t, model.AnchorAnchored, anchored["anchor_state"])
	assert.EqualValues(t, 0, anchored["chain_index"])

	w = s.do(t, http.MethodGet, "/api/stats", "", nil)
	assert.Equal(t, "1", decode(t, w)["totalTransactions"])

	w = s.do(t, http.MethodGet, "/api/ledger/reconcile", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["ok"])

	w = s.do(t, http.MethodGet, "/api/public/transactions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	public := decode(t, w)
	assert.Equal(t, true, public["chain_available"])
	txs := public["transactions"].([]interface{})
	require.Len(t, txs, 1)
	assert.Equal(t, true, object(t, txs[0])["chain_verified"])
	assert.Equal(t, "1500.5", object(t, txs[0])["amount"])
}

// TestLedger_RequestErrors 测试请求错误
func TestLedger_RequestErrors(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(t, adminEmail, adminPassword)
	deptID, headToken := setupDepartment(t, s, adminToken)

	for _, id := range []string{"999", "abc", "0", "-3"} {
		w := s.do(t, http.MethodGet, "/api/ledger/"+id, headToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, id)
	}

	w := s.do(t, http.MethodPost, "/api/ledger", headToken, map[string]interface{}{
		"dept_id": deptID, "to_dept": "X", "amount": "1.23456", "purpose": "too precise",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger", headToken, map[string]interface{}{
		"dept_id": deptID, "to_dept": "X", "amount": "10", "purpose": "p", "status": "Settled",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger", headToken, map[string]interface{}{
		"dept_id": deptID, "to_dept": "X", "amount": "10", "purpose": "<script>alert(1)</script>",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger", headToken, map[string]interface{}{
		"dept_id": deptID, "to_dept": "X", "amount": "10", "purpose": "Gloves", "anchor": false,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := fmt.Sprint(object(t, decode(t, w)["transaction"])["transaction_id"])

	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/reject", headToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/ledger/"+id+"/reject", headToken, map[string]string{"reason": "duplicate"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "duplicate", object(t, decode(t, w)["transaction"])["rejection_reason"])

	w = s.do(t, http.MethodGet, "/api/ledger?status=rejected", headToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/api/ledger?sort=bogus", headToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestDepartments_Routes 测试部门接口
func TestDepartments_Routes(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(t, adminEmail, adminPassword)
	deptID, headToken := setupDepartment(t, s, adminToken)

	w := s.do(t, http.MethodPost, "/api/departments", headToken, map[string]interface{}{"name": "Roads"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/departments", adminToken, map[string]interface{}{"name": "Health"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/departments", adminToken, map[string]interface{}{
		"name": "Clinics", "parent_dept_id": deptID, "allocated_budget": "20000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(decode(t, w)["error"].(string), "budget"))

	w = s.do(t, http.MethodPost, "/api/departments", adminToken, map[string]interface{}{
		"name": "Clinics", "parent_dept_id": deptID, "allocated_budget": "2500",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/departments/hierarchy", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tree := decode(t, w)
	assert.EqualValues(t, 2, tree["total_departments"])
	roots := tree["departments"].([]interface{})
	require.Len(t, roots, 1)
	assert.Len(t, object(t, roots[0])["children"], 1)

	w = s.do(t, http.MethodGet, "/api/departments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/departments/"+deptID, headToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Health", object(t, decode(t, w)["department"])["name"])

	w = s.do(t, http.MethodGet, "/api/departments/missing", headToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
