package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubomail/nubo/internal/ledger/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) FindPartner(ctx context.Context, id snowflake.ID) (*domain.Partner, error) {
	var partner domain.Partner
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM partners WHERE id = ?`, id,
	).Scan(&partner).Error
	if err != nil {
		return nil, err
	}
	if partner.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &partner, nil
}

func (r *repository) InsertPartner(ctx context.Context, partner domain.Partner) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO partners (id, name, slug, tier_discount_bp, allocated_storage_bytes, used_storage_bytes, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		partner.ID,
		partner.Name,
		partner.Slug,
		partner.TierDiscountBP,
		partner.AllocatedStorageBytes,
		partner.UsedStorageBytes,
		partner.Active,
		partner.CreatedAt,
		partner.UpdatedAt,
	).Error
}

// ReservePartnerPool commits delta bytes against the partner's pool. The
// capacity check lives in the WHERE clause so two concurrent reservations
// cannot both observe stale availability.
func (r *repository) ReservePartnerPool(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE partners
		 SET used_storage_bytes = used_storage_bytes + ?, updated_at = ?
		 WHERE id = ? AND active AND used_storage_bytes + ? <= allocated_storage_bytes`,
		delta, now, id, delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ReleasePartnerPool(ctx context.Context, id snowflake.ID, amount int64, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE partners
		 SET used_storage_bytes = CASE WHEN used_storage_bytes > ? THEN used_storage_bytes - ? ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		amount, amount, now, id,
	).Error
}

func (r *repository) GrowPartnerAllocation(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE partners
		 SET allocated_storage_bytes = allocated_storage_bytes + ?, updated_at = ?
		 WHERE id = ?`,
		delta, now, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DeletePartner(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM partners WHERE id = ? AND used_storage_bytes = 0`, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountPartnerOrganizations(ctx context.Context, id snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM organizations WHERE partner_id = ?`, id,
	).Scan(&count).Error
	return count, err
}

func (r *repository) FindOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE id = ?`, id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &org, nil
}

func (r *repository) InsertOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, partner_id, name, slug, total_storage_bytes, used_storage_bytes, active, suspended_at, suspended_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.PartnerID,
		org.Name,
		org.Slug,
		org.TotalStorageBytes,
		org.UsedStorageBytes,
		org.Active,
		org.SuspendedAt,
		org.SuspendedReason,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

// SetOrganizationTotal applies a resize. The old total in the WHERE clause
// rejects lost updates between racing resizes; the used guard rejects a
// shrink below the organization's own consumption.
func (r *repository) SetOrganizationTotal(ctx context.Context, id snowflake.ID, newTotal, oldTotal int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET total_storage_bytes = ?, updated_at = ?
		 WHERE id = ? AND total_storage_bytes = ? AND used_storage_bytes <= ?`,
		newTotal, now, id, oldTotal, newTotal,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ReserveOrganizationPool(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET used_storage_bytes = used_storage_bytes + ?, updated_at = ?
		 WHERE id = ? AND active AND suspended_at IS NULL AND used_storage_bytes + ? <= total_storage_bytes`,
		delta, now, id, delta,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ReleaseOrganizationPool(ctx context.Context, id snowflake.ID, amount int64, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET used_storage_bytes = CASE WHEN used_storage_bytes > ? THEN used_storage_bytes - ? ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		amount, amount, now, id,
	).Error
}

func (r *repository) GrowOrganizationTotal(ctx context.Context, id snowflake.ID, delta int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET total_storage_bytes = total_storage_bytes + ?, updated_at = ?
		 WHERE id = ?`,
		delta, now, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DeleteOrganization(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`DELETE FROM organizations WHERE id = ? AND used_storage_bytes = 0`, id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountOrganizationChildren(ctx context.Context, id snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT (SELECT COUNT(1) FROM domains WHERE organization_id = ?)
		      + (SELECT COUNT(1) FROM organization_users WHERE organization_id = ?)`,
		id, id,
	).Scan(&count).Error
	return count, err
}

func (r *repository) ListOrganizationsByPartner(ctx context.Context, partnerID snowflake.ID) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE partner_id = ? ORDER BY created_at ASC`, partnerID,
	).Scan(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) FindDomain(ctx context.Context, id snowflake.ID) (*domain.Domain, error) {
	var dom domain.Domain
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM domains WHERE id = ?`, id,
	).Scan(&dom).Error
	if err != nil {
		return nil, err
	}
	if dom.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &dom, nil
}

func (r *repository) FindDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	var dom domain.Domain
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM domains WHERE name = ?`, strings.ToLower(strings.TrimSpace(name)),
	).Scan(&dom).Error
	if err != nil {
		return nil, err
	}
	if dom.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &dom, nil
}

func (r *repository) InsertDomain(ctx context.Context, dom domain.Domain) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO domains (id, organization_id, name, domain_quota_bytes, status, mailcow_provisioned,
		                      dkim_selector, dkim_record, mx_verified, spf_verified, dkim_verified, dmarc_verified,
		                      dns_checked_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dom.ID,
		dom.OrganizationID,
		dom.Name,
		dom.DomainQuotaBytes,
		dom.Status,
		dom.MailcowProvisioned,
		dom.DKIMSelector,
		dom.DKIMRecord,
		dom.MXVerified,
		dom.SPFVerified,
		dom.DKIMVerified,
		dom.DMARCVerified,
		dom.DNSCheckedAt,
		dom.CreatedAt,
		dom.UpdatedAt,
	).Error
}

// SetDomainQuota rejects a shrink below the bytes the domain's mailboxes
// already hold.
func (r *repository) SetDomainQuota(ctx context.Context, id snowflake.ID, newQuota int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE domains
		 SET domain_quota_bytes = ?, updated_at = ?
		 WHERE id = ? AND ? >= (
		     SELECT COALESCE(SUM(mailbox_storage_bytes), 0)
		     FROM organization_users
		     WHERE domain_id = domains.id
		 )`,
		newQuota, now, id, newQuota,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) DeleteDomain(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM domains WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountDomainUsers(ctx context.Context, id snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM organization_users WHERE domain_id = ?`, id,
	).Scan(&count).Error
	return count, err
}

func (r *repository) SumDomainMailboxBytes(ctx context.Context, id snowflake.ID) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(mailbox_storage_bytes), 0) FROM organization_users WHERE domain_id = ?`, id,
	).Scan(&sum).Error
	return sum, err
}

func (r *repository) ListDomainsByOrganization(ctx context.Context, orgID snowflake.ID) ([]domain.Domain, error) {
	var domains []domain.Domain
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM domains WHERE organization_id = ? ORDER BY created_at ASC`, orgID,
	).Scan(&domains).Error
	if err != nil {
		return nil, err
	}
	return domains, nil
}

func (r *repository) SetDomainProvisioned(ctx context.Context, id snowflake.ID, provisioned bool, status string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE domains SET mailcow_provisioned = ?, status = ?, updated_at = ? WHERE id = ?`,
		provisioned, status, now, id,
	).Error
}

func (r *repository) SetDomainStatus(ctx context.Context, id snowflake.ID, status string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE domains SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	).Error
}

// ActivateDomain flips the status exactly once; a second caller sees zero
// rows affected and must not re-trigger provisioning.
func (r *repository) ActivateDomain(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE domains
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		domain.DomainStatusActive, now, id,
		domain.DomainStatusPending, domain.DomainStatusDNSPending, domain.DomainStatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetDomainDNSResults(ctx context.Context, id snowflake.ID, mx, spf, dkim, dmarc bool, status string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE domains
		 SET mx_verified = ?, spf_verified = ?, dkim_verified = ?, dmarc_verified = ?,
		     dns_checked_at = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		mx, spf, dkim, dmarc, now, status, now, id,
	).Error
}

func (r *repository) SetDomainDKIM(ctx context.Context, id snowflake.ID, selector, record string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE domains SET dkim_selector = ?, dkim_record = ?, updated_at = ? WHERE id = ?`,
		selector, record, now, id,
	).Error
}

func (r *repository) FindUser(ctx context.Context, id snowflake.ID) (*domain.OrganizationUser, error) {
	var user domain.OrganizationUser
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organization_users WHERE id = ?`, id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (r *repository) FindUserByEmail(ctx context.Context, email string) (*domain.OrganizationUser, error) {
	var user domain.OrganizationUser
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organization_users WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (r *repository) InsertUser(ctx context.Context, user domain.OrganizationUser) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organization_users (id, organization_id, domain_id, email, display_name, mailbox_storage_bytes, drive_storage_bytes, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.OrganizationID,
		user.DomainID,
		user.Email,
		user.DisplayName,
		user.MailboxStorageBytes,
		user.DriveStorageBytes,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repository) SetUserMailboxQuota(ctx context.Context, id snowflake.ID, newBytes int64, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organization_users SET mailbox_storage_bytes = ?, updated_at = ? WHERE id = ?`,
		newBytes, now, id,
	).Error
}

func (r *repository) SetUserStatus(ctx context.Context, id snowflake.ID, status string, now time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organization_users SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	).Error
}

func (r *repository) DeleteUser(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM organization_users WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListUsersByDomain(ctx context.Context, domainID snowflake.ID) ([]domain.OrganizationUser, error) {
	var users []domain.OrganizationUser
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organization_users WHERE domain_id = ? ORDER BY created_at ASC`, domainID,
	).Scan(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
